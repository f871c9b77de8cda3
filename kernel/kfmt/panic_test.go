package kfmt

import (
	"bytes"
	"errors"
	"gopheros/kernel"
	"testing"
)

func TestPanic(t *testing.T) {
	defer func() {
		SetHaltFn(nil)
		SetOutputSink(nil)
	}()

	var cpuHaltCalled bool
	SetHaltFn(func() {
		cpuHaltCalled = true
	})

	specs := []struct {
		name   string
		input  interface{}
		expOut string
	}{
		{
			"with *kernel.Error",
			&kernel.Error{Module: "test", Message: "panic test"},
			"\n-----------------------------------\n[test] unrecoverable error: panic test\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with error",
			errors.New("go error"),
			"\n-----------------------------------\n[rt] unrecoverable error: go error\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with string",
			"string error",
			"\n-----------------------------------\n[rt] unrecoverable error: string error\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"without error",
			nil,
			"\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetOutputSink(&buf)
			cpuHaltCalled = false

			Panic(spec.input)

			if got := buf.String(); got != spec.expOut {
				t.Fatalf("expected to get:\n%q\ngot:\n%q", spec.expOut, got)
			}

			if !cpuHaltCalled {
				t.Fatal("expected cpu.Halt() to be called by Panic")
			}
		})
	}
}
