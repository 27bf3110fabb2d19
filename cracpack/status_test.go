package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jveski/cracpack/internal/status"
	"github.com/jveski/cracpack/internal/workflow"
)

func TestPrintStatus(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	entries := []*status.Entry{
		{Version: 3, Snapshot: workflow.Snapshot{
			Target:    "main",
			State:     workflow.StateContainerRunning,
			Container: "0123456789abcdef",
			Updated:   now.Add(-time.Minute * 5),
		}},
		{Version: 9, Snapshot: workflow.Snapshot{
			Target:  "worker",
			State:   workflow.StateContainerRemoved,
			Error:   "checkpoint container failed",
			Done:    true,
			Updated: now.Add(-time.Second * 3),
		}},
	}

	buf := &bytes.Buffer{}
	printStatus(entries, now, buf)

	expected := "IMAGE     STATE               DONE     UPDATED    CONTAINER       ERROR\n" +
		"main      ContainerRunning    false    5m         0123456789ab    \n" +
		"worker    ContainerRemoved    true     3s                         \"checkpoint container failed\"\n"
	assert.Equal(t, expected, buf.String())

	assert.Nil(t, firstPending(entries[1:]))
	assert.Equal(t, entries[0], firstPending(entries))
}

func TestDurationToString(t *testing.T) {
	assert.Equal(t, "3s", durationToString(time.Second*3))
	assert.Equal(t, "5m", durationToString(time.Minute*5))
	assert.Equal(t, "2h", durationToString(time.Hour*2))
	assert.Equal(t, "3d", durationToString(time.Hour*73))
}
