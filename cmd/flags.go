package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type flagBinding struct {
	owner      *cobra.Command
	persistent bool
	name       string
	key        string
}

var bindings []flagBinding

// bindFlag makes the flag of owner override the configuration key once set.
func bindFlag(owner *cobra.Command, name, key string) {
	bindings = append(bindings, flagBinding{owner: owner, name: name, key: key})
}

// bindPersistentFlag is bindFlag for flags owner hands down to its
// subcommands.
func bindPersistentFlag(owner *cobra.Command, name, key string) {
	bindings = append(bindings, flagBinding{owner: owner, persistent: true, name: name, key: key})
}

// applyBindings binds the flags cmd was run with. Commands may share a
// configuration key, so only the executing command's flags are bound.
func applyBindings(v *viper.Viper, cmd *cobra.Command) error {
	for _, b := range bindings {
		if !b.appliesTo(cmd) {
			continue
		}
		if flag := cmd.Flags().Lookup(b.name); flag != nil {
			if err := v.BindPFlag(b.key, flag); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b flagBinding) appliesTo(cmd *cobra.Command) bool {
	if b.owner == cmd {
		return true
	}
	if !b.persistent {
		return false
	}
	for parent := cmd.Parent(); parent != nil; parent = parent.Parent() {
		if parent == b.owner {
			return true
		}
	}
	return false
}

// ProgramFlags are the startup flags handed to the ledger program.
type ProgramFlags struct {
	Flags string
}

// AddProgramFlags adds --flags to cmd.
func AddProgramFlags(cmd *cobra.Command) *ProgramFlags {
	f := &ProgramFlags{}
	cmd.Flags().StringVar(&f.Flags, "flags", "", `Program flags as JSON or @file.json, e.g. {"month":"2026-11"}`)
	return f
}

// JSON returns the flags as a JSON document, null when unset.
func (f *ProgramFlags) JSON() ([]byte, error) {
	raw := strings.TrimSpace(f.Flags)
	if raw == "" {
		return []byte("null"), nil
	}

	source := "--flags"
	data := []byte(raw)
	if strings.HasPrefix(raw, "@") {
		source = strings.TrimPrefix(raw, "@")
		var err error
		if data, err = os.ReadFile(source); err != nil {
			return nil, fmt.Errorf("failed to read flags file %s: %w", source, err)
		}
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON in %s", source)
	}
	return data, nil
}
