/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package chef

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mirkobrombin/chef/pkg/types"
	"github.com/mirkobrombin/dabadee/pkg/storage"
)

type Chef struct {
	Options types.ChefOptions
	Ctx     context.Context
}

// NewChef creates a new chef instance.
func NewChef() (chef Chef, err error) {
	chef.Options, err = getChefOptions()
	if err != nil {
		return
	}

	chef.Ctx = context.Background()
	return
}

// getChefOptions reads chef configuration options following a defined
// priority order:
//  1. If the CHEF_OPTS_FILE environment variable is set, the configuration
//     file path is extracted from this variable and used as the sole
//     source.
//  2. Otherwise, configuration files are searched in three predefined
//     locations, in order: "~/.config/chef/chef.json",
//     "/etc/chef/chef.json" and "/usr/share/chef/chef.json".
//  3. If no configuration file is found, the built-in Linux filesystem
//     conventions are used.
//  4. When SNAP_COMMON is set every convention is relocated below that
//     prefix; TMPDIR overrides the scratch root for builds.
//  5. Necessary directories are then created, if they don't exist.
func getChefOptions() (options types.ChefOptions, err error) {
	var confPaths []string

	if os.Getenv("CHEF_OPTS_FILE") != "" {
		confPaths = append(confPaths, os.Getenv("CHEF_OPTS_FILE"))
	} else {
		if homedir, homeErr := os.UserHomeDir(); homeErr == nil {
			confPaths = append(confPaths, filepath.Join(homedir, ".config", "chef", "chef.json"))
		}
		confPaths = append(confPaths, filepath.Join("/", "etc", "chef", "chef.json"))
		confPaths = append(confPaths, filepath.Join("/", "usr", "share", "chef", "chef.json"))
	}

	found := false
	for _, confPath := range confPaths {
		if _, statErr := os.Stat(confPath); statErr == nil {
			options, err = readChefOptions(confPath)
			if err != nil {
				return
			}
			found = true
			break
		}
	}

	if !found {
		options = defaultChefOptions()
	}

	// Other store paths are generated from the store path
	options.StoreContainersPath = filepath.Join(options.StorePath, "containers")
	options.StoreStatesPath = filepath.Join(options.StorePath, "states")

	options.ScratchRoot = os.TempDir()
	if tmpdir := os.Getenv("TMPDIR"); tmpdir != "" {
		options.ScratchRoot = tmpdir
	}

	err = createChefDirs(&options)
	return
}

// defaultChefOptions builds the Linux filesystem conventions, relocated
// below SNAP_COMMON when chef runs under a confinement wrapper.
func defaultChefOptions() types.ChefOptions {
	prefix := "/"
	if snapCommon := os.Getenv("SNAP_COMMON"); snapCommon != "" {
		prefix = snapCommon
	}

	options := types.ChefOptions{
		StorePath:      filepath.Join(prefix, "var", "chef", "store"),
		MountsPath:     filepath.Join(prefix, "var", "chef", "mnt"),
		PacksPath:      filepath.Join(prefix, "var", "chef", "packs"),
		SharePath:      filepath.Join(prefix, "usr", "share", "chef"),
		BinPath:        filepath.Join(prefix, "chef", "bin"),
		ProfilePath:    filepath.Join(prefix, "etc", "profile.d", "chef.sh"),
		CachePath:      filepath.Join(prefix, "var", "chef", "cache"),
		BaseRootfsPath: filepath.Join(prefix, "var", "chef", "rootfs"),
		BaseImage:      "docker.io/library/debian:bookworm-slim",
		ScratchSize:    2 << 30,
		DaBaDeeStoreOptions: storage.StorageOptions{
			Root:         filepath.Join(prefix, "var", "chef", "dabadee"),
			WithMetadata: true,
		},
		ServedSocketPath: filepath.Join(prefix, "run", "chef", "served.sock"),
		CvdSocketPath:    filepath.Join(prefix, "run", "chef", "cvd.sock"),
		WaiterAddr:       "127.0.0.1:7625",
	}
	return options
}

// readChefOptions reads and parses the configuration file at the given
// path. The file must be a valid JSON file.
func readChefOptions(path string) (options types.ChefOptions, err error) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	err = json.NewDecoder(file).Decode(&options)
	return
}

// createChefDirs creates the necessary directories for chef to work.
func createChefDirs(options *types.ChefOptions) error {
	dirs := []string{
		options.StorePath,
		options.MountsPath,
		options.PacksPath,
		options.SharePath,
		options.BinPath,
		options.CachePath,

		// Store subdirectories
		options.StoreContainersPath,
		options.StoreStatesPath,
	}

	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			err = os.MkdirAll(dir, 0755)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// GetInStoreDir returns the path of the given subdirectories inside the
// store.
func (c *Chef) GetInStoreDir(parts ...string) string {
	return filepath.Join(append([]string{c.Options.StorePath}, parts...)...)
}

// GetInStoreDirMkdir returns the path of the given subdirectories inside
// the store, creating it if missing.
func (c *Chef) GetInStoreDirMkdir(parts ...string) (path string, err error) {
	path = c.GetInStoreDir(parts...)
	err = os.MkdirAll(path, 0755)
	return
}

// GetInCacheDir returns the path of the given file inside the cache.
func (c *Chef) GetInCacheDir(parts ...string) string {
	return filepath.Join(append([]string{c.Options.CachePath}, parts...)...)
}

// GetInCacheDirMkdir returns the path of the given subdirectories inside
// the cache, creating it if missing.
func (c *Chef) GetInCacheDirMkdir(parts ...string) (path string, err error) {
	path = c.GetInCacheDir(parts...)
	err = os.MkdirAll(path, 0755)
	return
}

// MountPointFor returns the mount point of an installed package
// (/var/chef/mnt/<publisher>-<package>).
func (c *Chef) MountPointFor(publisher, pkg string) string {
	return filepath.Join(c.Options.MountsPath, publisher+"-"+pkg)
}

// PackPathFor returns the pack archive path of a package
// (/var/chef/packs/<publisher>-<package>.pack).
func (c *Chef) PackPathFor(publisher, pkg string) string {
	return filepath.Join(c.Options.PacksPath, publisher+"-"+pkg+".pack")
}

// RevisionDirFor returns the per-revision data directory
// (/usr/share/chef/<publisher>-<package>/<revision>).
func (c *Chef) RevisionDirFor(publisher, pkg string, revision int) string {
	return filepath.Join(c.Options.SharePath, publisher+"-"+pkg, strconv.Itoa(revision))
}

// WrapperPathFor returns the command wrapper path (/chef/bin/<command>).
func (c *Chef) WrapperPathFor(command string) string {
	return filepath.Join(c.Options.BinPath, command)
}
