package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	if !called {
		t.Error("custom logger was not called")
	}

	// nil installs a no-op, not a nil pointer.
	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("no-op logger should not have triggered callback")
	}
}

func TestLogfDefaultNotNil(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
	Logf("test message: %s", "value")
}

func TestDebugfOffByDefault(t *testing.T) {
	originalLogf, originalDebugf := Logf, Debugf
	defer func() { Logf, Debugf = originalLogf, originalDebugf }()

	called := false
	Logf = func(format string, v ...interface{}) { called = true }
	Debugf("should be suppressed")
	if called {
		t.Error("Debugf logged without EnableDebug")
	}

	EnableDebug()
	Debugf("now visible")
	if !called {
		t.Error("Debugf did not log after EnableDebug")
	}
}
