package ops

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/hpungsan/spr/internal/errors"
	"github.com/hpungsan/spr/internal/settings"
)

// MessageType names a local RPC message.
type MessageType string

const (
	MsgSavePrompt  MessageType = "SAVE_PROMPT"
	MsgGetStatus   MessageType = "GET_STATUS"
	MsgGetRecent   MessageType = "GET_RECENT"
	MsgSetSettings MessageType = "SET_SETTINGS"
	MsgTriggerSync MessageType = "TRIGGER_SYNC"
	MsgRetryFailed MessageType = "RETRY_FAILED"
)

// Message is one local RPC request.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the reply to a Message.
type Response struct {
	OK      bool             `json:"ok"`
	Message string           `json:"message,omitempty"`
	Code    errors.ErrorCode `json:"code,omitempty"`
	Data    any              `json:"data,omitempty"`
}

// Dispatch routes msg to its operation. Errors are reported in the response,
// never returned.
func (s *Service) Dispatch(ctx context.Context, msg Message) Response {
	data, err := s.dispatch(ctx, msg)
	if err != nil {
		resp := Response{OK: false, Message: err.Error()}
		var e *errors.SPRError
		if stderrors.As(err, &e) {
			resp.Message = e.Message
			resp.Code = e.Code
		}
		if resp.Code != errors.ErrInvalidRequest {
			s.logger.Error("RPC handler error", "type", string(msg.Type), "err", err)
		}
		return resp
	}
	return Response{OK: true, Data: data}
}

func (s *Service) dispatch(ctx context.Context, msg Message) (any, error) {
	switch msg.Type {
	case MsgSavePrompt:
		var in SavePromptInput
		if err := decodePayload(msg.Payload, &in); err != nil {
			return nil, err
		}
		return s.SavePrompt(ctx, in)
	case MsgGetStatus:
		return s.GetStatus(ctx)
	case MsgGetRecent:
		var in GetRecentInput
		if err := decodePayload(msg.Payload, &in); err != nil {
			return nil, err
		}
		return s.GetRecent(ctx, in)
	case MsgSetSettings:
		var in settings.Update
		if err := decodePayload(msg.Payload, &in); err != nil {
			return nil, err
		}
		return s.SetSettings(ctx, in)
	case MsgTriggerSync:
		in := TriggerSyncInput{Wait: true}
		if err := decodePayload(msg.Payload, &in); err != nil {
			return nil, err
		}
		return s.TriggerSync(ctx, in)
	case MsgRetryFailed:
		return s.RetryFailed(ctx)
	default:
		return nil, errors.NewInvalidRequest("Unknown message type")
	}
}

// decodePayload unmarshals raw into out. An absent payload leaves out unchanged.
func decodePayload(raw json.RawMessage, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.NewInvalidRequest("invalid payload: " + err.Error())
	}
	return nil
}
