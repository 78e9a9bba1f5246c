package config

import (
	"sync"
	"testing"
)

func resetGlobal() {
	configMutex.Lock()
	globalConfig = nil
	configMutex.Unlock()
	initOnce = sync.Once{}
}

func TestInitialize(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	path := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:9999\"\n")
	if err := Initialize(path); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := GetConfig().Server.ListenAddress; got != "127.0.0.1:9999" {
		t.Errorf("expected 127.0.0.1:9999, got %s", got)
	}

	other := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:1\"\n")
	if err := Initialize(other); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if got := GetConfig().Server.ListenAddress; got != "127.0.0.1:9999" {
		t.Errorf("expected second Initialize to be ignored, got %s", got)
	}
}

func TestInitialize_Error(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	if err := Initialize(writeConfig(t, "spending:\n  backend: nope\n")); err == nil {
		t.Fatal("expected error")
	}
	if GetConfig() != nil {
		t.Error("expected no config after failed Initialize")
	}
}

func TestReloadConfig(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	SetConfig(MinimalConfig())

	if err := ReloadConfig(writeConfig(t, "telemetry:\n  logging:\n    level: nope\n")); err == nil {
		t.Fatal("expected reload error")
	}
	if GetConfig().Telemetry.Logging.Level != DefaultLoggingLevel {
		t.Error("expected failed reload to keep current config")
	}

	if err := ReloadConfig(writeConfig(t, "telemetry:\n  logging:\n    level: debug\n")); err != nil {
		t.Fatalf("ReloadConfig() error = %v", err)
	}
	if GetConfig().Telemetry.Logging.Level != "debug" {
		t.Errorf("expected debug, got %s", GetConfig().Telemetry.Logging.Level)
	}
}

func TestMustGetConfig_Panics(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustGetConfig()
}

func TestGetConfig_Concurrent(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)
	SetConfig(MinimalConfig())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = GetConfig()
		}()
		go func() {
			defer wg.Done()
			SetConfig(MinimalConfig())
		}()
	}
	wg.Wait()
}
