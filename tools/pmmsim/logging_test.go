package main

import (
	"bytes"
	"testing"

	"gopheros/kernel/kfmt"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernelLogWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, setupLogging(&buf, "INFO"))

	w := newKernelLogWriter(logging.MustGetLogger("kernel"))
	kfmt.SetOutputSink(w)
	defer kfmt.SetOutputSink(nil)

	kfmt.Printf("[frame_pool] managing %d frames\n[frame_pool] second line\n", 3)

	out := buf.String()
	assert.Contains(t, out, "kernel")
	assert.Contains(t, out, "[frame_pool] managing 3 frames")
	assert.Contains(t, out, "[frame_pool] second line")
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))

	// A line split over several writes is logged once it is complete
	buf.Reset()
	kfmt.Printf("[frame_pool] partial ")
	assert.Empty(t, buf.String())

	kfmt.Printf("line %d", 7)
	w.Flush()
	assert.Contains(t, buf.String(), "[frame_pool] partial line 7")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestSetupLoggingLevel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, setupLogging(&buf, "WARNING"))

	log.Info("hidden")
	log.Warning("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	assert.Error(t, setupLogging(&buf, "LOUD"))
}
