package eventlog

import (
	"log/slog"

	"github.com/reikadev/reika-onchain/internal/agent"
	"github.com/reikadev/reika-onchain/pkg/logger"
)

// Observer 订阅监督器事件流并写入结构化日志与审计日志。
// 它是纯粹的观察者：不修改任何状态，也不阻塞事件投递。
type Observer struct {
	log   *slog.Logger
	audit *slog.Logger
}

// New 构造事件日志观察者。
func New() *Observer {
	return &Observer{
		log:   logger.Named("events"),
		audit: logger.Audit(),
	}
}

// Listen 返回可注册到监督器的监听函数。
func (o *Observer) Listen() agent.Listener {
	return func(event agent.Event) {
		attrs := []any{
			slog.String("event_id", event.ID),
			slog.String("type", string(event.Type)),
			slog.Int64("timestamp", event.Timestamp),
		}
		for key, value := range event.Fields {
			attrs = append(attrs, slog.Any(key, value))
		}

		switch event.Type {
		case agent.EventError, agent.EventExecutionFailed:
			o.log.Warn("事件", attrs...)
			o.audit.Warn("事件", attrs...)
		case agent.EventStarted, agent.EventExecuted, agent.EventStopped:
			o.log.Info("事件", attrs...)
			o.audit.Info("事件", attrs...)
		default:
			o.log.Debug("事件", attrs...)
		}
	}
}
