package main

import (
	"os"
	"runtime"

	C "github.com/AlwaysKaffa/ratioghost/constant"

	F "github.com/sagernet/sing/common/format"

	"github.com/spf13/cobra"
)

var commandVersion = &cobra.Command{
	Use:   "version",
	Short: "Print current version",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
	Args: cobra.NoArgs,
}

func init() {
	mainCommand.AddCommand(commandVersion)
}

func printVersion() {
	version := F.ToString("ratioghost version ", C.Version, " (", runtime.Version(), ", ", runtime.GOOS, "/", runtime.GOARCH, ")\n")
	os.Stdout.WriteString(version)
}
