// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

/*
Package websocket delivers live status updates to browsers.

The Hub is a notify.Sink: the notifier hands it one message per subscriber
group and the hub forwards it to the clients subscribed to that group. A
client follows groups by sending control messages:

	{"type":"subscribe","data":{"group":"job:<backup or delivery id>"}}
	{"type":"subscribe","data":{"group":"database:<database id>"}}
	{"type":"subscribe","data":{"group":"dashboard:<resource group id>"}}
	{"type":"unsubscribe","data":{"group":"job:<id>"}}
	{"type":"ping"}

and receives

	{"type":"subscribed","group":"job:<id>","data":{"group":"job:<id>"}}
	{"type":"status_changed","group":"job:<id>","data":{...StatusEvent...}}
	{"type":"dashboard_metrics","group":"dashboard:<id>","data":{...}}

Each client has two goroutines:
  - readPump: reads control messages, handles pongs
  - writePump: writes queued messages, sends pings

A client whose send buffer is full when a message arrives is dropped; the
browser reconnects and resubscribes. Publish never blocks the notifier.
*/
package websocket
