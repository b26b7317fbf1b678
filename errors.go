/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"html"
	"strings"

	"github.com/rs/zerolog/log"
)

// logf is the request log. It is silent unless --verbose is set.
func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Info().Str("module", "http").Msgf(format, args...)
}

// drainErrors logs handler write failures until errs is closed.
func drainErrors(errs <-chan error) {
	for err := range errs {
		log.Debug().Err(err).Str("module", "http").Msg("write failed")
	}
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", html.EscapeString(title)))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", html.EscapeString(body)))

	return htmlBody.String()
}
