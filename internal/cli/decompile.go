package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/cache"
	"github.com/User319183/NebulaVM-Deobfuscator/internal/fetch"
	"github.com/User319183/NebulaVM-Deobfuscator/pkg/decompiler"
)

var (
	outputPath string
	jsonReport bool
	noCache    bool
)

func init() {
	decompileCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write reconstructed source to a file instead of stdout")
	decompileCmd.Flags().BoolVar(&jsonReport, "json", false, "print the diagnostics report as JSON")
	decompileCmd.Flags().BoolVar(&noCache, "no-cache", false, "skip the analysis cache")
}

var decompileCmd = &cobra.Command{
	Use:   "decompile <file|url>",
	Short: "Decompile an obfuscated script to readable source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := readScript(args[0])
		if err != nil {
			return err
		}

		in, err := extractWithCache(src)
		if err != nil {
			return err
		}

		result, err := decompiler.Decompile(in)
		if err != nil {
			return err
		}

		if jsonReport {
			data, err := result.Report.MarshalJSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), string(data))
		} else if len(result.Report.Entries()) > 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), result.Report.Render())
		}

		if outputPath != "" {
			return os.WriteFile(outputPath, []byte(result.Source+"\n"), 0o644)
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.Source)
		return nil
	},
}

// extractWithCache runs extraction and fingerprinting, consulting the
// analysis cache keyed by the payload bytes.
func extractWithCache(src string) (decompiler.Input, error) {
	in, err := decompiler.ExtractFromSource(src)
	if err != nil {
		return decompiler.Input{}, err
	}
	if noCache {
		return in, nil
	}

	store, storeErr := openStore()
	if storeErr != nil {
		slog.Debug("analysis cache unavailable", "error", storeErr)
		return in, nil
	}

	key := cache.Key([]byte(in.BytecodeB64), in.StringTableBlob)
	if rec, err := store.Load(key); err == nil && rec != nil {
		slog.Debug("analysis cache hit", "key", key)
		m, swapped := rec.Restore()
		in.OpcodeMap = m
		in.Swapped = swapped
		if rec.HasReturn {
			ret := rec.ReturnOpcode
			in.ReturnOpcode = &ret
		}
		return in, nil
	}

	rec := cache.FromResult(in.OpcodeMap, derefReturn(in.ReturnOpcode), in.ReturnOpcode != nil, in.Swapped)
	if err := store.Save(key, rec); err != nil {
		slog.Debug("analysis cache write failed", "error", err)
	}
	return in, nil
}

func derefReturn(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func openStore() (*cache.Store, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return nil, err
	}
	return cache.NewStore(filepath.Join(dir, "nebulavm"))
}

func readScript(target string) (string, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		client, err := fetch.NewClient()
		if err != nil {
			return "", err
		}
		slog.Debug("fetching script", "url", target)
		result, err := client.FetchScript(target)
		if err != nil {
			return "", err
		}
		return string(result.Body), nil
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
