// Package realtime drives one websocket connection's conversation loop:
// audio chunks in, transcripts / AI text / synthesized audio out.
package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleni-ai/shepherd/internal/convo"
	"github.com/eleni-ai/shepherd/internal/endpointing"
	"github.com/eleni-ai/shepherd/internal/gateway"
	"github.com/eleni-ai/shepherd/internal/observability"
	"github.com/eleni-ai/shepherd/internal/protocol"
)

type Orchestrator struct {
	conversations *convo.Service
	buffers       *endpointing.Manager
	synthesizer   gateway.Synthesizer
	metrics       *observability.Metrics
	voiceID       string
}

const teardownTimeout = 5 * time.Second

func NewOrchestrator(conversations *convo.Service, buffers *endpointing.Manager, synthesizer gateway.Synthesizer, metrics *observability.Metrics, voiceID string) *Orchestrator {
	return &Orchestrator{
		conversations: conversations,
		buffers:       buffers,
		synthesizer:   synthesizer,
		metrics:       metrics,
		voiceID:       voiceID,
	}
}

// RunConnection processes inbound events for one connection until the
// context ends or inbound closes. The session was created by the transport
// at connect time; teardown (end session + drop audio buffer) happens here
// on the way out.
//
// Assistant turns run in their own goroutine so this loop keeps draining
// inbound while audio streams out; that is what lets an interrupt arriving
// mid-stream stop delivery between chunks. A new user turn supersedes any
// turn still in flight.
func (o *Orchestrator) RunConnection(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) error {
	var (
		turnWG      sync.WaitGroup
		turnMu      sync.Mutex
		cancelTurn  context.CancelFunc
		interrupted atomic.Bool
	)

	// startTurn runs in the event loop, so clearing the interrupt flag here
	// preserves event order: an interrupt queued behind this message still
	// lands on the turn it was aimed at.
	startTurn := func(text string) {
		turnMu.Lock()
		if cancelTurn != nil {
			cancelTurn()
		}
		turnCtx, cancel := context.WithCancel(ctx)
		cancelTurn = cancel
		turnMu.Unlock()

		interrupted.Store(false)

		turnWG.Add(1)
		go func() {
			defer turnWG.Done()
			defer cancel()
			o.respond(turnCtx, sessionID, text, outbound, &interrupted)
		}()
	}

	defer func() {
		turnMu.Lock()
		if cancelTurn != nil {
			cancelTurn()
		}
		turnMu.Unlock()
		turnWG.Wait()

		o.buffers.Cleanup(sessionID)
		// Teardown uses a fresh context: the connection's is already done.
		endCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := o.conversations.End(endCtx, sessionID); err != nil {
			log.Printf("session %s: teardown failed: %v", sessionID, err)
		}
	}()

	o.send(outbound, protocol.Connected{Type: protocol.TypeConnected, SessionID: sessionID})

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				// Clean close: let an in-flight turn finish its delivery.
				turnWG.Wait()
				return nil
			}
			switch m := msg.(type) {
			case protocol.StartConversation:
				if strings.TrimSpace(m.Context) != "" {
					if err := o.conversations.AddContext(ctx, sessionID, m.Context); err != nil {
						o.sendError(outbound, sessionID, "add_context_failed", err)
						continue
					}
				}
				o.send(outbound, protocol.ConversationStarted{Type: protocol.TypeConversationStarted, SessionID: sessionID})

			case protocol.AudioChunk:
				pcm, err := base64.StdEncoding.DecodeString(m.AudioBase64)
				if err != nil {
					o.sendError(outbound, sessionID, "invalid_audio", err)
					continue
				}
				result, err := o.buffers.SubmitChunk(ctx, sessionID, pcm, m.SampleRate)
				if err != nil {
					o.sendError(outbound, sessionID, "transcription_failed", err)
					continue
				}
				if !result.Final {
					continue
				}
				o.send(outbound, protocol.Transcript{
					Type:      protocol.TypeTranscript,
					SessionID: sessionID,
					Text:      result.Transcript,
					Final:     true,
				})
				if strings.TrimSpace(result.Transcript) == "" {
					continue
				}
				startTurn(result.Transcript)

			case protocol.TextMessage:
				startTurn(m.Text)

			case protocol.Interrupt:
				interrupted.Store(true)
				o.buffers.StopPlayback(sessionID)
				if err := o.conversations.SetInterrupted(ctx, sessionID, true); err != nil {
					o.sendError(outbound, sessionID, "interrupt_failed", err)
					continue
				}
				o.send(outbound, protocol.Interrupted{Type: protocol.TypeInterrupted, SessionID: sessionID})

			case protocol.AddContext:
				if err := o.conversations.AddContext(ctx, sessionID, m.Context); err != nil {
					o.sendError(outbound, sessionID, "add_context_failed", err)
					continue
				}
				o.send(outbound, protocol.ContextUpdated{Type: protocol.TypeContextUpdated, SessionID: sessionID})

			case protocol.ClearHistory:
				if err := o.conversations.ClearHistory(ctx, sessionID); err != nil {
					o.sendError(outbound, sessionID, "clear_history_failed", err)
					continue
				}
				o.send(outbound, protocol.HistoryCleared{Type: protocol.TypeHistoryCleared, SessionID: sessionID})
			}
		}
	}
}

// respond runs one assistant turn: LLM reply, then synthesized audio
// streamed chunk by chunk. The interrupt flags are re-read between chunks;
// an interrupt stops further delivery but does not cancel the synthesis
// calls already issued upstream. The connection-local flag is checked as
// well as the persisted one because processMessage resets the stored flag
// at the start of the turn.
func (o *Orchestrator) respond(ctx context.Context, sessionID, userText string, outbound chan<- any, interrupted *atomic.Bool) {
	o.send(outbound, protocol.Processing{Type: protocol.TypeProcessing, SessionID: sessionID, Status: "thinking"})

	reply, err := o.conversations.ProcessMessage(ctx, sessionID, userText)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.sendError(outbound, sessionID, "ai_response_failed", err)
		return
	}
	o.send(outbound, protocol.AIResponse{Type: protocol.TypeAIResponse, SessionID: sessionID, Text: reply})

	seq := 0
	for chunk := range gateway.StreamSynthesis(ctx, o.synthesizer, reply, o.voiceID, 1.0) {
		if chunk.Err != nil {
			if ctx.Err() == nil {
				o.sendError(outbound, sessionID, "synthesis_failed", chunk.Err)
			}
			break
		}
		if ctx.Err() != nil {
			// Superseded by a newer turn, or the connection is gone.
			return
		}
		if interrupted.Load() {
			// The event loop already announced the interrupt.
			break
		}
		if o.isInterrupted(ctx, sessionID) {
			o.send(outbound, protocol.Interrupted{Type: protocol.TypeInterrupted, SessionID: sessionID})
			break
		}
		seq++
		o.send(outbound, protocol.AudioOut{
			Type:        protocol.TypeAudioOut,
			SessionID:   sessionID,
			Seq:         seq,
			Format:      "audio/mpeg",
			AudioBase64: base64.StdEncoding.EncodeToString(chunk.Audio),
		})
	}

	o.send(outbound, protocol.ResponseComplete{Type: protocol.TypeResponseComplete, SessionID: sessionID})
}

func (o *Orchestrator) isInterrupted(ctx context.Context, sessionID string) bool {
	sess, err := o.conversations.Get(ctx, sessionID)
	if err != nil {
		// A vanished session means nobody is listening anymore.
		return errors.Is(err, convo.ErrNotFound)
	}
	return sess.Interrupted
}

// send never blocks the orchestrator on a slow client: the transport owns
// a bounded outbound queue and drops when saturated.
func (o *Orchestrator) send(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		if o.metrics != nil {
			o.metrics.WSMessages.WithLabelValues("outbound", "drop_full").Inc()
		}
	}
}

func (o *Orchestrator) sendError(outbound chan<- any, sessionID, code string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	o.send(outbound, protocol.ErrorEvent{
		Type:      protocol.TypeError,
		SessionID: sessionID,
		Code:      code,
		Detail:    detail,
	})
}
