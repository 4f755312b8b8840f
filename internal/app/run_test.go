package app

import (
	"bytes"
	"strings"
	"testing"
)

// DBを必要とするサブコマンドは、接続できない場合に起動せずエラーを返す。
func TestRun_CommandsRequiringDatabase_FailFast(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "serve", args: []string{"serve"}},
		{name: "デフォルト", args: []string{}},
		{name: "worker", args: []string{"worker"}},
		{name: "cleanup", args: []string{"cleanup"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setTestEnv(t)

			var buf bytes.Buffer
			err := Run(&buf, tt.args)
			if err == nil {
				t.Fatal("expected error when database is unreachable")
			}
			if !strings.Contains(err.Error(), "database") {
				t.Errorf("error should mention database: %v", err)
			}
		})
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("BASE_URL", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
	if !strings.Contains(err.Error(), "initialization failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRun_Healthcheck_SkipsInit(t *testing.T) {
	// 必須の環境変数がなくてもhealthcheckは設定を読み込まない
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SERVER_PORT", "1")

	var buf bytes.Buffer
	err := Run(&buf, []string{"healthcheck"})
	if err == nil {
		t.Fatal("expected health check to fail with no server")
	}
	if !strings.Contains(err.Error(), "health check") {
		t.Errorf("unexpected error: %v", err)
	}
}
