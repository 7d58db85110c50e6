// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration and trace-aware
// structured logging for the mesh.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic attribute keys for mesh telemetry.
const (
	// Service attributes
	AttrServiceID        = "meshwork.service.id"
	AttrServiceAddress   = "meshwork.service.address"
	AttrServiceTransport = "meshwork.service.transport"
	AttrOperationsCount  = "meshwork.service.operations_count"

	// Operation attributes
	AttrOperationName = "meshwork.operation.name"
	AttrAttempt       = "meshwork.invoke.attempt"
	AttrAttempts      = "meshwork.invoke.attempts"
	AttrInvokeStatus  = "meshwork.invoke.status"
	AttrDurationMs    = "meshwork.invoke.duration_ms"

	// Query and plan attributes
	AttrQueryID    = "meshwork.query.id"
	AttrQueryText  = "meshwork.query.text"
	AttrPlanID     = "meshwork.plan.id"
	AttrPlanSteps  = "meshwork.plan.steps"
	AttrPlanStatus = "meshwork.plan.status"
	AttrStepIndex  = "meshwork.step.index"

	// Catalog attributes
	AttrCatalogVersion  = "meshwork.catalog.version"
	AttrCatalogServices = "meshwork.catalog.services"

	// Error attributes
	AttrErrorCode = "meshwork.error.code"
)

// ServiceAttributes returns attributes describing a discovered service.
func ServiceAttributes(id, address, transport string, operations int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrServiceID, id),
		attribute.String(AttrServiceAddress, address),
	}
	if transport != "" {
		attrs = append(attrs, attribute.String(AttrServiceTransport, transport))
	}
	if operations > 0 {
		attrs = append(attrs, attribute.Int(AttrOperationsCount, operations))
	}
	return attrs
}

// InvokeAttributes returns attributes for an invocation span.
func InvokeAttributes(serviceID, operation string, step int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrServiceID, serviceID),
		attribute.String(AttrOperationName, operation),
		attribute.Int(AttrStepIndex, step),
	}
}

// QueryAttributes returns attributes for a query span. Long query text is
// truncated.
func QueryAttributes(queryID, text string) []attribute.KeyValue {
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	attrs := []attribute.KeyValue{attribute.String(AttrQueryText, text)}
	if queryID != "" {
		attrs = append(attrs, attribute.String(AttrQueryID, queryID))
	}
	return attrs
}

// PlanAttributes returns attributes for plan execution.
func PlanAttributes(planID string, steps int, status string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrPlanID, planID),
		attribute.Int(AttrPlanSteps, steps),
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrPlanStatus, status))
	}
	return attrs
}
