package main

import (
	"bytes"
	"io"
	"strings"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("pmmsim")

const logFormat = `%{time:15:04:05.000} %{module:-8s} %{level:.4s} %{message}`

// setupLogging sends all log output to w, dropping records below level.
func setupLogging(w io.Writer, level string) error {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		return err
	}

	backend := logging.NewBackendFormatter(
		logging.NewLogBackend(w, "", 0),
		logging.MustStringFormatter(logFormat),
	)
	leveled := logging.AddModuleLevel(backend)
	leveled.SetLevel(lvl, "")
	logging.SetBackend(leveled)

	return nil
}

// kernelLogWriter forwards kernel console output (kfmt) to a logger, one
// record per line. kfmt emits a line in several writes so incomplete lines
// are held back until their terminating newline arrives.
type kernelLogWriter struct {
	log     *logging.Logger
	pending []byte
}

func newKernelLogWriter(log *logging.Logger) *kernelLogWriter {
	return &kernelLogWriter{log: log}
}

func (w *kernelLogWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)

	for {
		eol := bytes.IndexByte(w.pending, '\n')
		if eol < 0 {
			break
		}

		w.emit(w.pending[:eol])
		w.pending = w.pending[eol+1:]
	}

	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *kernelLogWriter) Flush() {
	w.emit(w.pending)
	w.pending = nil
}

func (w *kernelLogWriter) emit(line []byte) {
	if text := strings.TrimSpace(string(line)); text != "" {
		w.log.Info(text)
	}
}
