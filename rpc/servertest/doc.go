// Package servertest provides a scriptable fake server speaking the wire
// protocol over loopback TCP or Unix sockets, for tests of the transport,
// session and client packages.
//
// Without a handler the server behaves like a minimal data server: it accepts
// logins (offering the configured mechanisms), opens, reads, stats and lists
// the files given in Options.Files. A HandlerFunc can script any answer, e.g.
// redirects, waits, errors or chunked OkSoFar replies; returning nil falls back
// to the built-in behaviour.
//
//	srv, _ := servertest.Start("tcp", "127.0.0.1:0", servertest.Options{
//	    Files: map[string][]byte{"/data/a": []byte("hello")},
//	})
//	defer srv.Close()
//	srv.Handle(func(req servertest.Request) []servertest.Reply {
//	    if req.Code == common.ReqStat {
//	        return servertest.Redirect("127.0.0.1", 7777, "t1")
//	    }
//	    return nil
//	})
package servertest
