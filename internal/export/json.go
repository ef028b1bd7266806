// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// JSONExporter writes the thread exactly as the thread store does, so an
// export can be copied back into the threads directory.
type JSONExporter struct{}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

// Export converts a thread to indented JSON.
func (e *JSONExporter) Export(th *model.Thread) ([]byte, error) {
	if err := validate(th); err != nil {
		return nil, err
	}
	return json.MarshalIndent(th, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}
