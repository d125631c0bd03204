// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

// Package metrics exposes Prometheus collectors for the gateway.
//
// All collectors are registered with the default registry via promauto at
// package init, so importing this package is enough to make them visible
// on the /metrics endpoint. Collector names are stable and form part of
// the operational contract; renaming one breaks dashboards and alerts.
//
// Label cardinality is kept deliberately low: endpoint and room kind are
// small closed sets, and event names come from the fixed envelope types.
// No user or room identifiers ever appear as label values.
package metrics
