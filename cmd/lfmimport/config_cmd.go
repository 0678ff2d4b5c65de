// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	yaml "gopkg.in/yaml.v3"

	"github.com/ewanc26/lfmimport/internal/config"
	"github.com/ewanc26/lfmimport/internal/errors"
	"github.com/ewanc26/lfmimport/internal/ui"
)

// runConfig implements 'config' (show the effective config) and
// 'config init' (write a starter .lfmimport/config.yaml).
func runConfig(args []string, configPath string, globals GlobalFlags) {
	if len(args) > 0 && args[0] == "init" {
		runConfigInit(args[1:], configPath, globals)
		return
	}

	fs := flag.NewFlagSet("config", flag.ExitOnError)
	_ = fs.Parse(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	if globals.JSON {
		enc, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(enc))
		return
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		errors.FatalError(errors.NewInternalError("Cannot render configuration", "", "", err), globals.JSON)
	}
	ui.Header("Effective configuration")
	fmt.Print(string(out))
}

func runConfigInit(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("config init", flag.ExitOnError)
	host := fs.String("host", "", "PDS base URL, e.g. https://bsky.social")
	did := fs.String("did", "", "Repository DID to import into")
	_ = fs.Parse(args)

	if *host == "" || *did == "" {
		fmt.Fprintln(os.Stderr, "Usage: lfmimport config init --host <pds-url> --did <did>")
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.Repo.Host = *host
	cfg.Repo.DID = *did

	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			errors.FatalError(errors.NewInternalError("Cannot determine home directory", "", "", err), globals.JSON)
		}
		path = config.Path(home)
	}

	if err := config.Save(cfg, path); err != nil {
		errors.FatalError(err, globals.JSON)
	}
	ui.Successf("Wrote configuration to %s", path)
}
