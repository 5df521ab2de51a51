package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/ctcdecode/internal/observe"
	"github.com/MrWong99/ctcdecode/pkg/ctc"
)

// Stream message types.
const (
	msgReady   = "ready"
	msgRows    = "rows"
	msgEnd     = "end"
	msgPartial = "partial"
	msgFinal   = "final"
	msgError   = "error"
)

// clientMessage is a frame sent by the client.
type clientMessage struct {
	Type     string      `json:"type"`
	LogProbs [][]float32 `json:"log_probs,omitempty"`
	NBest    int         `json:"nbest,omitempty"`
}

// serverMessage is a frame sent by the server.
type serverMessage struct {
	Type       string           `json:"type"`
	SessionID  string           `json:"session_id"`
	Timesteps  int              `json:"timesteps"`
	Hypotheses []hypothesisJSON `json:"hypotheses,omitempty"`
	Error      string           `json:"error,omitempty"`
	Kind       string           `json:"kind,omitempty"`
}

// streamSession is one websocket decoding session.
type streamSession struct {
	s      *Server
	conn   *websocket.Conn
	id     string
	mode   string
	stream *ctc.Stream
	labels int

	// busy is the time spent decoding, excluding network waits.
	busy time.Duration
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	e := s.Engine()
	if e.Streamer == nil {
		s.writeError(w, r, fmt.Errorf("%w: streaming needs the beam decoder", errNotImplemented))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Debug("server: websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(s.maxBodyBytes)

	sess := &streamSession{
		s:      s,
		conn:   conn,
		id:     uuid.NewString(),
		mode:   e.Mode,
		stream: e.Streamer.NewStream(),
		labels: e.Vocabulary.Len(),
	}

	ctx, span := observe.StartSpan(r.Context(), "ctc.stream", trace.WithAttributes(
		attribute.String("ctc.session_id", sess.id),
	))
	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)

	err = sess.run(ctx)
	span.SetAttributes(attribute.Int("ctc.timesteps", sess.stream.Stats().Timesteps))
	observe.EndSpan(span, err)

	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "done")
	case errors.Is(err, errClientGone):
		conn.CloseNow()
	default:
		conn.Close(websocket.StatusInternalError, observe.ErrorKind(err))
	}
}

var errClientGone = errors.New("server: client closed the stream")

// run serves messages until the client ends the stream, disconnects or the
// stream fails on the language model.
func (ss *streamSession) run(ctx context.Context) error {
	log := observe.Logger(ctx).With("session_id", ss.id)
	log.Debug("server: stream opened", "mode", ss.mode)

	if err := ss.send(ctx, serverMessage{Type: msgReady}); err != nil {
		return errClientGone
	}

	for {
		_, data, err := ss.conn.Read(ctx)
		if err != nil {
			log.Debug("server: stream closed by client", "err", err)
			return errClientGone
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := ss.sendError(ctx, fmt.Errorf("%w: %w", errBadRequest, err)); err != nil {
				return errClientGone
			}
			continue
		}

		switch msg.Type {
		case msgRows:
			if err := ss.rows(ctx, msg.LogProbs); err != nil {
				if sendErr := ss.sendError(ctx, err); sendErr != nil {
					return errClientGone
				}
				// A malformed row leaves the stream usable.
				if errors.Is(err, ctc.ErrInvalidInput) || errors.Is(err, errBadRequest) {
					continue
				}
				ss.record(ctx, err)
				return err
			}
			best, err := ss.stream.Best()
			if err != nil {
				return err
			}
			if err := ss.send(ctx, serverMessage{Type: msgPartial, Hypotheses: toJSON([]ctc.Hypothesis{best}, 0)}); err != nil {
				return errClientGone
			}

		case msgEnd:
			if msg.NBest < 0 {
				if err := ss.sendError(ctx, fmt.Errorf("%w: nbest must not be negative", errBadRequest)); err != nil {
					return errClientGone
				}
				continue
			}
			start := time.Now()
			hyps, err := ss.stream.Finish(msg.NBest)
			ss.busy += time.Since(start)
			ss.record(ctx, err)
			if err != nil {
				_ = ss.sendError(ctx, err)
				return err
			}
			log.Debug("server: stream finished", "timesteps", ss.stream.Stats().Timesteps)
			if err := ss.send(ctx, serverMessage{Type: msgFinal, Hypotheses: toJSON(hyps, 0)}); err != nil {
				return errClientGone
			}
			return nil

		default:
			if err := ss.sendError(ctx, fmt.Errorf("%w: unknown message type %q", errBadRequest, msg.Type)); err != nil {
				return errClientGone
			}
		}
	}
}

// rows steps the stream through each row, holding one decode slot. A
// message with any malformed row is rejected before the first step.
func (ss *streamSession) rows(ctx context.Context, rows [][]float32) error {
	if len(rows) == 0 {
		return fmt.Errorf("%w: rows message without log_probs", errBadRequest)
	}
	if err := ctc.ValidateMatrix(rows, ss.labels); err != nil {
		return fmt.Errorf("rows message: %w", err)
	}
	if err := ss.s.checkLength(ss.stream.Stats().Timesteps + len(rows)); err != nil {
		return err
	}

	release, err := ss.s.acquire(ctx, 1)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	defer func() { ss.busy += time.Since(start) }()
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ss.stream.Step(row); err != nil {
			return fmt.Errorf("row %d of message: %w", i, err)
		}
	}
	return nil
}

func (ss *streamSession) record(ctx context.Context, err error) {
	ss.s.metrics.RecordDecode(context.WithoutCancel(ctx), "stream", ss.stream.Stats().Timesteps, ss.busy, err)
}

func (ss *streamSession) send(ctx context.Context, msg serverMessage) error {
	msg.SessionID = ss.id
	msg.Timesteps = ss.stream.Stats().Timesteps
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return ss.conn.Write(ctx, websocket.MessageText, data)
}

func (ss *streamSession) sendError(ctx context.Context, err error) error {
	return ss.send(ctx, serverMessage{Type: msgError, Error: err.Error(), Kind: kindFor(err)})
}
