package utils

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
)

var Log = logrus.New()

func SetLogLevel(level string) {
	// We are not using logrus' trace and panic levels
	switch strings.ToLower(level) {
	case "debug":
		Log.SetLevel(log.DebugLevel)
	case "info":
		Log.SetLevel(log.InfoLevel)
	case "warning", "warn":
		Log.SetLevel(log.WarnLevel)
	case "error":
		Log.SetLevel(log.ErrorLevel)
	case "fatal":
		Log.SetLevel(log.FatalLevel)
	default:
		log.Fatal("Bad error level string")
	}
}

// GetAbsDBPath resolves the catalog database path.
func GetAbsDBPath(dbPath string) (string, error) {
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "skillmeat", "catalog.sqlite"), nil
	}
	return filepath.Abs(dbPath)
}

// ParseOwnerRepo splits an "owner/repo" argument, tolerating a full GitHub
// URL or a trailing "@ref".
func ParseOwnerRepo(arg string) (owner, repo, ref string, ok bool) {
	arg = strings.TrimSpace(arg)
	if i := strings.Index(arg, "@"); i >= 0 {
		ref = arg[i+1:]
		arg = arg[:i]
	}
	arg = strings.TrimPrefix(arg, "https://")
	arg = strings.TrimPrefix(arg, "http://")
	arg = strings.TrimPrefix(arg, "github.com/")
	arg = strings.Trim(arg, "/")
	parts := strings.Split(arg, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), ref, true
}
