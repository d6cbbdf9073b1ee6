// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package mailer

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSMTP(t *testing.T) {
	_, err := NewSMTP(SMTPConfig{})
	assert.Error(t, err)

	s, err := NewSMTP(SMTPConfig{Host: "smtp.example.com", From: "statistics@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 587, s.cfg.Port)
}

func TestMessage(t *testing.T) {
	s, err := NewSMTP(SMTPConfig{Host: "smtp.example.com", From: "statistics@example.com"})
	require.NoError(t, err)

	msg, err := s.message(Message{
		To:      []string{"admin@example.com"},
		Subject: "Daily download report",
		Text:    "42 downloads",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Daily download report"}, msg.GetGenHeader("Subject"))

	_, err = s.message(Message{Subject: "x"})
	assert.True(t, errors.Is(err, ErrNoRecipients))

	_, err = s.message(Message{To: []string{"not an address"}})
	assert.Error(t, err)
}

func TestMessage_InvalidFrom(t *testing.T) {
	s, err := NewSMTP(SMTPConfig{Host: "smtp.example.com", From: "@@"})
	require.NoError(t, err)

	_, err = s.message(Message{To: []string{"admin@example.com"}})
	assert.Error(t, err)
}

func TestSend_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s, err := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: port, From: "statistics@example.com"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = s.Send(ctx, Message{To: []string{"admin@example.com"}, Subject: "s", Text: "t"})
	assert.Error(t, err)
}
