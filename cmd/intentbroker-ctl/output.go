// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
)

// cliResponse is the JSON shape of a successful or failed command,
// grounded on roach88-nysm/brutalist/internal/cli's CLIResponse.
type cliResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// outputFormatter renders a command result as JSON or a short text
// line, the same two formats roach88-nysm's CLI supports.
type outputFormatter struct {
	format string
	writer io.Writer
}

func (f *outputFormatter) success(data any) error {
	if f.format == "json" {
		return json.NewEncoder(f.writer).Encode(cliResponse{Status: "ok", Data: data})
	}
	fmt.Fprintf(f.writer, "%+v\n", data)
	return nil
}
