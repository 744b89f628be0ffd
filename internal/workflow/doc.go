// Package workflow drives queued items through the analysis and generation
// stages.
//
// The Engine runs a single driver goroutine. It takes the oldest pending item,
// moves it to analyzing, streams partial descriptions into the store, moves it
// to generating and finally records a result or a classified failure. One
// item's failure never ends the batch. Stop requests are cooperative: they are
// observed between items, so the in-flight item always reaches completed or
// error.
//
// Settings are read through a SettingsSource at every item boundary, so edits
// made while a batch runs apply to the next item.
package workflow
