// Package config loads and validates Capstan configuration from TOML files.
//
// Configuration resolution order: an explicit --config path, then
// ~/.config/capstan/config.toml, then ./capstan.toml. Missing files fall
// back to built-in defaults so the daemon can start on a fresh machine.
package config
