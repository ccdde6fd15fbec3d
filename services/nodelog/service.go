// Package nodelog runs the log controller as a bus service: it drives the
// producer tick, applies config/nodelog, and acts on control writes from the
// receiver and on requests published to nodelog/cmd.
package nodelog

import (
	"context"
	"time"

	"nodelog/bus"
	"nodelog/link"
	"nodelog/logctl"
	"nodelog/services/config"
	"nodelog/x/mathx"
)

var (
	topicConfig = config.Topic("nodelog")
	TopicState  = bus.T("nodelog", "state")
	TopicCmd    = bus.T("nodelog", "cmd")
)

const (
	minTickMs = 10
	maxTickMs = 3_600_000
)

// Controls delivers control writes from the paired receiver.
type Controls interface {
	Writes() <-chan link.Write
}

type Service struct {
	ctl  *logctl.Controller
	ctrl Controls
	tick time.Duration

	published logctl.State
	havePub   bool
}

func New(ctl *logctl.Controller, ctrl Controls, tick time.Duration) *Service {
	if tick <= 0 {
		tick = time.Second
	}
	return &Service{ctl: ctl, ctrl: ctrl, tick: tick}
}

// settings is the parsed form of config/nodelog. Zero fields are unset.
type settings struct {
	tick       time.Duration
	logEvery   uint32
	ackTimeout time.Duration
}

func parseSettings(payload any) (settings, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return settings{}, false
	}
	var s settings
	if v, ok := m["tick_ms"].(float64); ok {
		s.tick = time.Duration(mathx.Clamp(int64(v), minTickMs, maxTickMs)) * time.Millisecond
	}
	if v, ok := m["log_every"].(float64); ok && v >= 1 {
		s.logEvery = uint32(mathx.Clamp(v, 1, 1<<20))
	}
	if v, ok := m["ack_timeout_ms"].(float64); ok && v > 0 {
		s.ackTimeout = time.Duration(v) * time.Millisecond
	}
	return s, true
}

func (s *Service) apply(st settings, tick *time.Ticker) {
	if st.tick > 0 && st.tick != s.tick {
		s.tick = st.tick
		tick.Reset(st.tick)
		println("[nodelog] tick set to", st.tick.String())
	}
	if st.logEvery > 0 {
		_ = s.ctl.SetLogEvery(st.logEvery)
	}
	if st.ackTimeout > 0 {
		s.ctl.SetAckTimeout(st.ackTimeout)
	}
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfig)
	defer conn.Unsubscribe(cfgSub)
	cmdSub := conn.Subscribe(TopicCmd)
	defer conn.Unsubscribe(cmdSub)

	var writes <-chan link.Write
	if s.ctrl != nil {
		writes = s.ctrl.Writes()
	}

	tick := time.NewTicker(s.tick)
	defer tick.Stop()

	s.publishState(conn)
	for {
		select {
		case <-ctx.Done():
			println("[nodelog] stopping")
			return
		case <-tick.C:
			if err := s.ctl.OnProducerTick(ctx); err != nil {
				println("[nodelog] tick:", err.Error())
			}
		case msg := <-cfgSub.Channel():
			if st, ok := parseSettings(msg.Payload); ok {
				s.apply(st, tick)
			}
		case w := <-writes:
			s.handleWrite(ctx, w)
		case msg := <-cmdSub.Channel():
			s.handleCmd(ctx, conn, msg)
		}
		s.publishState(conn)
	}
}

func (s *Service) handleWrite(ctx context.Context, w link.Write) {
	on := len(w.Value) > 0 && w.Value[0] != 0
	switch w.Handle {
	case link.HandleEnable:
		if err := s.ctl.SetLoggingEnabled(on); err != nil {
			println("[nodelog] enable:", err.Error())
		}
	case link.HandleDrain:
		if on {
			s.drain(ctx)
		}
	default:
		println("[nodelog] write to unknown handle", w.Handle)
	}
}

func (s *Service) drain(ctx context.Context) (int, error) {
	n, err := s.ctl.RequestDrain(ctx)
	if err != nil {
		println("[nodelog] drain failed after", n, "records:", err.Error())
		return n, err
	}
	println("[nodelog] drained", n, "records")
	return n, nil
}

// handleCmd serves "enable", "disable", "drain" and "state" requests.
func (s *Service) handleCmd(ctx context.Context, conn *bus.Connection, msg *bus.Message) {
	op, _ := msg.Payload.(string)
	reply := map[string]any{"ok": true}
	var err error
	switch op {
	case "enable":
		err = s.ctl.SetLoggingEnabled(true)
	case "disable":
		err = s.ctl.SetLoggingEnabled(false)
	case "drain":
		var n int
		n, err = s.drain(ctx)
		reply["drained"] = n
	case "state":
	default:
		reply["ok"] = false
		reply["error"] = "unsupported"
		conn.Reply(msg, reply, false)
		return
	}
	if err != nil {
		reply["ok"] = false
		reply["error"] = err.Error()
	}
	reply["state"] = stateMap(s.ctl.State())
	conn.Reply(msg, reply, false)
}

// publishState publishes the retained state when anything but the tick
// counter changed.
func (s *Service) publishState(conn *bus.Connection) {
	st := s.ctl.State()
	cmp := st
	cmp.Ticks = s.published.Ticks
	if s.havePub && cmp == s.published {
		return
	}
	s.published, s.havePub = st, true
	conn.Publish(conn.NewMessage(TopicState, stateMap(st), true))
}

func stateMap(st logctl.State) map[string]any {
	return map[string]any{
		"mode":         st.Mode.String(),
		"log_every":    st.LogEvery,
		"ticks":        st.Ticks,
		"appended":     st.Appended,
		"drains":       st.Drains,
		"last_drained": st.LastDrained,
	}
}

// Start the nodelog service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
