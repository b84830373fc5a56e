package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestSetOutputs(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		currentOut := defaultLogger.Out
		err := SetOutputs(nil, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if defaultLogger.Out != currentOut {
			t.Error("Logger output should not change by default")
		}
	})

	t.Run("stdout", func(t *testing.T) {
		err := SetOutputs([]string{"-"}, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if defaultLogger.Out != os.Stdout {
			t.Error("Logger output should be stdout")
		}
	})

	t.Run("stderr", func(t *testing.T) {
		err := SetOutputs([]string{"="}, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if defaultLogger.Out != os.Stderr {
			t.Error("Logger output should be stderr")
		}
	})

	t.Run("write_two_files", func(t *testing.T) {
		logDir := t.TempDir()
		log1 := filepath.Join(logDir, "file1.log")
		log2 := filepath.Join(logDir, "file2.log")
		err := SetOutputs([]string{log1, log2}, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		const content = "hello log"
		_, err = io.WriteString(defaultLogger.Out, content)
		if err != nil {
			t.Fatal("Failed to write to log output with two outputs", err)
		}
		if err := CloseWriters(); err != nil {
			t.Fatal("Close writers", err)
		}

		for _, log := range []string{log1, log2} {
			logContent, err := os.ReadFile(log)
			if err != nil {
				t.Fatalf("Failed to read %s content: %s", log, err)
			}
			if string(logContent) != content {
				t.Fatalf("%s content '%s', is not as expected: '%s'", log, string(logContent), content)
			}
		}
	})
	_ = SetOutputs([]string{"="}, 0, 0)
}

func TestFieldsFormatting(t *testing.T) {
	cases := []struct {
		OutputFormat string
		FormatString func(label, value string) string
		FormatInt    func(label string, value int) string
	}{{
		OutputFormat: "text",
		FormatString: func(label, value string) string { return fmt.Sprint(label, "=", value) },
		FormatInt:    func(label string, value int) string { return fmt.Sprint(label, "=", value) },
	}, {
		OutputFormat: "json",
		FormatString: func(label, value string) string { return fmt.Sprintf("\"%s\":\"%s\"", label, value) },
		FormatInt:    func(label string, value int) string { return fmt.Sprintf("\"%s\":%d", label, value) },
	}}

	for _, tc := range cases {
		t.Run(tc.OutputFormat, func(t *testing.T) {
			log := filepath.Join(t.TempDir(), "file.log")
			if err := SetOutputs([]string{log}, 0, 0); err != nil {
				t.Fatal(err)
			}
			SetOutputFormat(tc.OutputFormat)
			SetLevel("info")

			ctx := AddFields(context.Background(), Fields{StorageFieldKey: "default"})
			FromContext(ctx).
				WithField(WorkerFieldKey, 3).
				WithFields(Fields{RelativePathFieldKey: "group/project.hg"}).
				Info("log")
			if err := CloseWriters(); err != nil {
				t.Fatalf("Close writers: %s", err)
			}

			contents, err := os.ReadFile(log)
			if err != nil {
				t.Fatalf("Read %s contents: %s", log, err)
			}
			for _, expected := range []string{
				tc.FormatString(StorageFieldKey, "default"),
				tc.FormatString(RelativePathFieldKey, "group/project.hg"),
				tc.FormatInt(WorkerFieldKey, 3),
			} {
				if !bytes.Contains(contents, []byte(expected)) {
					t.Errorf("Log contents do not contain expected substring %s:\n%s", expected, string(contents))
				}
			}
		})
	}
	_ = SetOutputs([]string{"="}, 0, 0)
}

func TestAddFieldsDoesNotLeak(t *testing.T) {
	parent := AddFields(context.Background(), Fields{"a": 1})
	first := AddFields(parent, Fields{"b": 2})
	second := AddFields(parent, Fields{"c": 3})

	if _, ok := first.Value(LogFieldsContextKey).(Fields)["c"]; ok {
		t.Error("sibling context fields leaked into first context")
	}
	if _, ok := second.Value(LogFieldsContextKey).(Fields)["b"]; ok {
		t.Error("sibling context fields leaked into second context")
	}
	if got := len(parent.Value(LogFieldsContextKey).(Fields)); got != 1 {
		t.Errorf("parent context fields modified, got %d fields", got)
	}
}

func TestLogCallerTrimmer(t *testing.T) {
	tests := []struct {
		name             string
		file             string
		function         string
		expectedFile     string
		expectedFunction string
	}{
		{
			name:             "project directory",
			file:             "/home/user/work/vcsgate/pkg/logging/logger.go",
			function:         "github.com/treeverse/vcsgate/pkg/logging.TestFunc",
			expectedFile:     "pkg/logging/logger.go:42",
			expectedFunction: "pkg/logging.TestFunc",
		},
		{
			name:             "suffixed project directory",
			file:             "/home/user/work/vcsgate-demo/pkg/refs/mapper.go",
			function:         "github.com/treeverse/vcsgate/pkg/refs.(*Mapper).Head",
			expectedFile:     "pkg/refs/mapper.go:42",
			expectedFunction: "pkg/refs.(*Mapper).Head",
		},
		{
			name:             "outside project",
			file:             "/usr/lib/go/src/net/http/server.go",
			function:         "net/http.(*conn).serve",
			expectedFile:     "usr/lib/go/src/net/http/server.go:42",
			expectedFunction: "net/http.(*conn).serve",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			function, file := logCallerTrimmer(&runtime.Frame{File: tt.file, Function: tt.function, Line: 42})
			if file != tt.expectedFile {
				t.Errorf("file got %s, expected %s", file, tt.expectedFile)
			}
			if function != tt.expectedFunction {
				t.Errorf("function got %s, expected %s", function, tt.expectedFunction)
			}
		})
	}
}

func TestLevel(t *testing.T) {
	defer SetLevel("info")
	SetLevel("debug")
	if Level() != "debug" {
		t.Fatalf("level got %s, expected debug", Level())
	}
	if !Default().IsDebugging() {
		t.Error("expected debugging enabled")
	}
	SetLevel("warning")
	if Level() != "warning" {
		t.Fatalf("level got %s, expected warning", Level())
	}
}
