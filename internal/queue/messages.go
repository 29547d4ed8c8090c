package queue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TanSendMessage represents a request to deliver a TAN code to a
// customer over their configured channel. Dispatched by the challenge
// HTTP handler onto a Redis stream; consumed by an out-of-process TAN
// delivery script that owns the actual SMS/email gateway integration.
type TanSendMessage struct {
	AccountLogin string `json:"account_login"`
	Channel      string `json:"channel"`
	Code         string `json:"code"`
}

// NewTanSendMessage constructs a TanSendMessage.
func NewTanSendMessage(accountLogin, channel, code string) *TanSendMessage {
	return &TanSendMessage{AccountLogin: accountLogin, Channel: channel, Code: code}
}

// ToJSON serializes the TanSendMessage to JSON bytes.
func (m *TanSendMessage) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tan send message: %w", err)
	}
	return data, nil
}

// FromJSONTanSend deserializes JSON bytes into a TanSendMessage and validates it.
func FromJSONTanSend(data []byte) (*TanSendMessage, error) {
	msg := &TanSendMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tan send message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Validate checks if the TanSendMessage has all required fields with valid values.
func (m *TanSendMessage) Validate() error {
	if m.AccountLogin == "" {
		return errors.New("account_login is required")
	}
	if m.Channel == "" {
		return errors.New("channel is required")
	}
	if m.Channel != "sms" && m.Channel != "email" {
		return fmt.Errorf("channel must be sms or email (got %q)", m.Channel)
	}
	if m.Code == "" {
		return errors.New("code is required")
	}
	if len(m.Code) != 6 {
		return fmt.Errorf("code must be 6 digits (got %q)", m.Code)
	}
	return nil
}
