package client

import (
	"context"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/session"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var (
	Logger = logger.GetLogger("xrdc/client")
)

// invokeRequest is the helper all client operations send requests with.
// Failures are annotated with the request and the server url.
func invokeRequest(ctx context.Context, s *session.Session, req *common.Request) (*session.Response, error) {
	resp, err := s.SendCommand(ctx, req, 0)
	if err != nil {
		Logger.Debugf("%s on %s failed: %v", req, s.URL(), err)
		return nil, errors.WithMessagef(err, "%s on %s", req.Code, s.URL().Endpoint())
	}
	Logger.Debugf("%s answered by %s (%d bytes)", req, resp.Endpoint, len(resp.Body))
	return resp, nil
}
