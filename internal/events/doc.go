// Package events carries notification events from the lifecycle engine to
// the delivery subsystem.
//
// The engine writes each notification row in the same unit of work as the
// transition that caused it. Once that unit commits, it publishes a
// NotificationEvent through an EventEmitter so in-process consumers can act
// without polling the notification table:
// - NotificationEvent: a committed notification
// - EventHandler: consumes events
// - EventEmitter: fans events out to handlers
package events
