package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/docscan/internal/imaging"
)

// newScanCmd creates the scan subcommand.
func newScanCmd() *cobra.Command {
	var (
		output  string
		quality int
	)

	cmd := &cobra.Command{
		Use:   "scan <image>",
		Short: "Crop a photographed document and correct its perspective",
		Long: `Scan finds the largest four-sided outline in a photo, warps it to a
flat rectangle and writes the result as JPEG. Nothing is stored in the database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := args[0]
			if output == "" {
				output = strings.TrimSuffix(in, filepath.Ext(in)) + "_scan.jpg"
			}
			if quality == 0 {
				quality = cfg.Thumbnail.JPEGQuality
			}

			data, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			img, _, err := imaging.Decode(data)
			if err != nil {
				return err
			}

			s := ui.Spinner("Detecting document edges")
			if !outputJSON {
				s.Start()
			}
			out, quad, err := imaging.Scan(img)
			s.Stop()
			if errors.Is(err, imaging.ErrNoDocument) {
				return fmt.Errorf("%s: no document outline found", in)
			}
			if err != nil {
				return err
			}

			encoded, err := imaging.EncodeJPEG(out, quality)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, encoded, 0o644); err != nil {
				return err
			}

			b := out.Bounds()
			if outputJSON {
				return printJSON(map[string]interface{}{
					"output":  output,
					"width":   b.Dx(),
					"height":  b.Dy(),
					"corners": quad,
				})
			}
			ui.Success("Wrote %s (%dx%d)", output, b.Dx(), b.Dy())
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output JPEG path (default: <image>_scan.jpg)")
	cmd.Flags().IntVar(&quality, "quality", 0, "JPEG quality 1-100 (default: thumbnail.jpeg_quality)")
	return cmd
}
