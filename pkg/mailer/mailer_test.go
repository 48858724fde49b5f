package mailer

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/gatewarden/pkg/config"
)

func TestNew(t *testing.T) {
	log := logrus.New()

	sender, err := New(log, &config.MailerConfig{Mode: "log"})
	require.NoError(t, err)
	assert.IsType(t, &logSender{}, sender)

	sender, err = New(log, &config.MailerConfig{
		Mode: "smtp",
		SMTP: config.SMTPConfig{
			Host: "localhost",
			Port: 25,
			From: "auth@example.org",
		},
	})
	require.NoError(t, err)
	assert.IsType(t, &smtpSender{}, sender)

	_, err = New(log, &config.MailerConfig{Mode: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestLogSender(t *testing.T) {
	sender := &logSender{log: logrus.New()}

	err := sender.SendLoginLink(
		context.Background(),
		"alice@example.org",
		"https://example.org",
		"https://example.org/auth/api/login/?token=abc",
	)
	assert.NoError(t, err)
}

func TestBuildMessage(t *testing.T) {
	message := string(buildMessage(
		"auth@example.org",
		"alice@example.org",
		"https://example.org",
		"https://example.org/auth/api/login/?token=abc",
	))

	assert.Contains(t, message, "To: alice@example.org\r\n")
	assert.Contains(t, message, "Subject: Log in to https://example.org\r\n")
	assert.Contains(t, message, "https://example.org/auth/api/login/?token=abc")
	assert.Contains(t, message, "\r\n\r\n")
}
