package utils

import (
	"log/slog"
	"os"
	"regexp"
	"strings"
)

type maskRule struct {
	pattern     *regexp.Regexp
	replacement string
}

var maskRules = []maskRule{
	// ?key=, &api_key=, apiKey=, api-key=, apikey= query parameters (Cloud Vision REST keys)
	{regexp.MustCompile(`([?&])(api[_\-]?[kK]ey|key)=([^&\s"]+)`), `${1}${2}=***MASKED***`},
	{regexp.MustCompile(`Bearer\s+([A-Za-z0-9_\-\.]+)`), `Bearer ***MASKED***`},
	// Azure Computer Vision
	{regexp.MustCompile(`Ocp-Apim-Subscription-Key:\s*([^\s]+)`), `Ocp-Apim-Subscription-Key: ***MASKED***`},
	{regexp.MustCompile(`x-api-key:\s*([^\s]+)`), `x-api-key: ***MASKED***`},
	// Google service account JSON echoed back in errors
	{regexp.MustCompile(`"private_key"\s*:\s*"[^"]*"`), `"private_key": "***MASKED***"`},
}

// MaskSensitiveData masks API keys and other credentials in s. Engine errors
// often echo request URLs or headers, so anything logged from a provider call
// goes through here first.
func MaskSensitiveData(s string) string {
	if s == "" {
		return s
	}
	for _, r := range maskRules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// MaskSensitiveError wraps an error and masks sensitive data when the error is converted to string
func MaskSensitiveError(err error) error {
	if err == nil {
		return nil
	}
	return &maskedError{err: err}
}

type maskedError struct {
	err error
}

func (e *maskedError) Error() string {
	return MaskSensitiveData(e.err.Error())
}

func (e *maskedError) Unwrap() error {
	return e.err
}

// ParseLogLevel maps DEBUG, INFO, WARN and ERROR (any case) to a slog level.
// Anything else is INFO.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ExitOnError(msg string, err error) {
	slog.Error(msg, "err", MaskSensitiveError(err))
	os.Exit(1)
}
