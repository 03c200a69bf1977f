package tcp

import "errors"

// errSendBusy is returned by Send if called again before the previous
// Send's completion was reported — a core-side bug, since the state
// machine never does this (spec.md §4.5 flush()'s is_sending guard).
var errSendBusy = errors.New("mqttcore/tcp: previous send still in flight")
