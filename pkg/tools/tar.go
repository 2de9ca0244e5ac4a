package tools

import (
	"os"
	"os/exec"
)

// TarUnpack unpacks the given tarball into the destination directory.
//
// Note: we are not using the tar package from the standard library
// because it does not support tarballs with an unknown header type.
func TarUnpack(srcPath, dstPath string) error {
	cmd := exec.Command("tar", "--exclude", "dev", "-xf", srcPath, "-C", dstPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
