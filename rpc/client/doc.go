// Package client provides the file level API on top of the session layer.
//
// A Client wraps a transport.IConnectionManager. Each operation (Stat, Dirlist,
// Ping) and each opened File runs on its own session, so every file gets its
// own read cache and logical connection while the physical connections to a
// server are shared.
//
// Usage Example:
//
//	config := common.DefaultClientConfig()
//	manager := tcp.NewTCPConnectionManager(config, session.Handshake)
//	defer manager.Close()
//
//	c := client.NewClient(manager, config, nil)
//	f, err := c.Open(ctx, "root://eos.example.org//data/run42.root")
//	if err != nil {
//		return err
//	}
//	defer f.Close()
//
//	buf := make([]byte, 4096)
//	n, err := f.ReadAt(buf, 0)
package client
