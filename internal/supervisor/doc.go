// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

// Package supervisor builds the process supervision tree using suture.
//
// The gateway runs two supervised layers under one root: the realtime
// layer (the dispatch loop draining the Deliver queue) and the api layer
// (the HTTP server). Supervisor lifecycle events are logged through
// sutureslog into the application's structured logger.
//
// Services are plain suture.Service implementations; wrappers for the
// HTTP server and the dispatch loop live in the services subpackage.
package supervisor
