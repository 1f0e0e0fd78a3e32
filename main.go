package main

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/OliveiraNt/queuepilot/cmd"
	"github.com/OliveiraNt/queuepilot/internal/utils"
	"github.com/joho/godotenv"
)

func findConfigPath() string {
	if p := os.Getenv("QUEUEPILOT_CONFIG"); p != "" {
		return p
	}
	names := []string{"config.yml", "config.yaml"}
	candidates := []string{}

	for _, n := range names {
		candidates = append(candidates, "./"+n)
	}

	home, _ := os.UserHomeDir()
	if runtime.GOOS == "windows" {
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			for _, n := range names {
				candidates = append(candidates, filepath.Join(appdata, "queuepilot", n))
			}
		}
		if pd := os.Getenv("PROGRAMDATA"); pd != "" {
			for _, n := range names {
				candidates = append(candidates, filepath.Join(pd, "queuepilot", n))
			}
		}
	} else {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			for _, n := range names {
				candidates = append(candidates, filepath.Join(xdg, "queuepilot", n))
			}
		}
		if home != "" {
			for _, n := range names {
				candidates = append(candidates, filepath.Join(home, ".config", "queuepilot", n))
			}
		}
		for _, n := range names {
			candidates = append(candidates, filepath.Join("/etc", "queuepilot", n))
		}
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "./config.yml"
}

func main() {
	_ = godotenv.Load()
	utils.InitLogger()

	if err := cmd.Execute(findConfigPath()); err != nil {
		utils.Logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}
