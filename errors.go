/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"log"
	"strings"
	"time"
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}

// ErrorKind classifies recoverable game errors. Every kind results in a
// targeted error event to the requesting connection; none of them mutate
// session state or terminate the process.
type ErrorKind string

const (
	ErrorValidation    ErrorKind = "validation"
	ErrorAuthorization ErrorKind = "authorization"
	ErrorNotFound      ErrorKind = "not_found"
	ErrorUpstream      ErrorKind = "upstream"
)

type GameError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *GameError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *GameError) Unwrap() error {
	return e.Err
}

func validationError(format string, args ...any) *GameError {
	return &GameError{Kind: ErrorValidation, Message: fmt.Sprintf(format, args...)}
}

func authorizationError(format string, args ...any) *GameError {
	return &GameError{Kind: ErrorAuthorization, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(format string, args ...any) *GameError {
	return &GameError{Kind: ErrorNotFound, Message: fmt.Sprintf(format, args...)}
}

func upstreamError(err error, format string, args ...any) *GameError {
	return &GameError{Kind: ErrorUpstream, Message: fmt.Sprintf(format, args...), Err: err}
}
