package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func logNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRollingFileRotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	r := newRollingFile(dir, 16, 0)
	r.now = func() time.Time { return day }
	defer r.Close()

	line := []byte("0123456789\n")
	for i := 0; i < 3; i++ {
		if _, err := r.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	names := strings.Join(logNames(t, dir), " ")
	for _, want := range []string{"guildhall_2026-03-14.log", "guildhall_2026-03-14.1.log", "guildhall_2026-03-14.2.log"} {
		if !strings.Contains(names, want) {
			t.Errorf("expected %s, got %s", want, names)
		}
	}
}

func TestRollingFileRotatesOnDay(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	r := newRollingFile(dir, 0, 0)
	r.now = func() time.Time { return day }
	defer r.Close()

	_, _ = r.Write([]byte("before midnight\n"))
	day = day.Add(2 * time.Minute)
	_, _ = r.Write([]byte("after midnight\n"))

	data, err := os.ReadFile(filepath.Join(dir, "guildhall_2026-03-15.log"))
	if err != nil {
		t.Fatalf("expected a file for the new day: %v", err)
	}
	if string(data) != "after midnight\n" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestCleanOldLogsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"guildhall_2026-03-12.log",
		"guildhall_2026-03-13.1.log",
		"guildhall_2026-03-13.log",
		"guildhall_2026-03-14.log",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	cleanOldLogs(dir, 2)

	got := strings.Join(logNames(t, dir), " ")
	if got != "guildhall_2026-03-13.log guildhall_2026-03-14.log notes.txt" {
		t.Fatalf("unexpected files left: %s", got)
	}
}
