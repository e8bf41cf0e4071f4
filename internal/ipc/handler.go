package ipc

import (
	"time"

	"go.uber.org/zap"
)

// polling commands are logged at debug so periodic UI refreshes stay quiet
var pollingCommands = map[CommandType]bool{
	CmdStatus:     true,
	CmdGetQueue:   true,
	CmdGetSession: true,
}

// logExchange logs one request/response pair
func logExchange(log *zap.Logger, req *Request, resp *Response, duration time.Duration) {
	fields := []zap.Field{
		zap.String("cmd", string(req.Cmd)),
		zap.Bool("success", resp.Success),
		zap.Duration("took", duration),
	}
	if !resp.Success {
		fields = append(fields, zap.String("error", resp.Error))
	}

	switch {
	case !resp.Success:
		log.Warn("request failed", fields...)
	case pollingCommands[req.Cmd]:
		log.Debug("request", fields...)
	default:
		log.Info("request", fields...)
	}
}
