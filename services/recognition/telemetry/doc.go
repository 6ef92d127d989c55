// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry builds the OpenTelemetry providers a recognizer reports
// to.
//
// # Exporters
//
// Traces go to OTLP/gRPC or stdout. Metrics go to stdout or to a Prometheus
// registry served by Providers.Handler; handing the same registry to the
// recognizer puts its own collectors and the heuristic pool's OTel
// instruments on one scrape endpoint. "none" yields no-op providers.
//
// Providers are passed explicitly. Install additionally makes them the otel
// globals for code that reads those.
//
// # Logging
//
// LoggerWithTrace adds trace_id and span_id to a slog logger so log lines
// can be joined with spans.
package telemetry
