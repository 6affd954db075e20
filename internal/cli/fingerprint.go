package cli

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/extract"
	"github.com/User319183/NebulaVM-Deobfuscator/internal/fingerprint"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <file>",
	Short: "Print the recovered opcode map for a new obfuscator build",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := readScript(args[0])
		if err != nil {
			return err
		}

		payload, err := extract.FromSource(src)
		if err != nil {
			return err
		}
		result, err := fingerprint.Fingerprint(payload.Interpreter)
		if err != nil {
			return err
		}

		entries := result.Map.Entries()
		opcodes := make([]int, 0, len(entries))
		for raw := range entries {
			opcodes = append(opcodes, raw)
		}
		sort.Ints(opcodes)

		for _, raw := range opcodes {
			line := fmt.Sprintf("%3d  %s", raw, entries[raw])
			if result.Swapped.Has(raw) {
				line += "  " + color.YellowString("(swapped)")
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}

		if result.HasReturn {
			fmt.Fprintf(cmd.OutOrStdout(), "return opcode: %d\n", result.ReturnOpcode)
		}
		for _, raw := range result.Unclassified {
			fmt.Fprintln(cmd.OutOrStdout(), color.RedString("unclassified: %d", raw))
		}
		return nil
	},
}
