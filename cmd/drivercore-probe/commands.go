package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hubdrive/drivercore/driver"
)

func newCapsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Short: "Print the capabilities the driver advertises after Initialize",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDriver(cmd, cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(d.Capabilities().String())
			return nil
		},
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Stat a single path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDriver(cmd, cmd.Context())
			if err != nil {
				return err
			}
			st, err := d.Stat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStat(st)
			return nil
		},
	}
}

func printStat(st driver.Stat) {
	kind := "file"
	if st.IsDirectory {
		kind = "dir"
	}
	size := "-"
	if st.Size != nil {
		size = humanize.Bytes(uint64(*st.Size))
	}
	fmt.Printf("%-4s %-10s %-30s %s\n", kind, size, st.Name, st.Path)
}

func newListCmd() *cobra.Command {
	var paged bool
	var cursor string
	var limit int
	cmd := &cobra.Command{
		Use:   "ls <path>",
		Short: "List a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDriver(cmd, cmd.Context())
			if err != nil {
				return err
			}
			page, err := d.ListDirectory(cmd.Context(), args[0], driver.ListOptions{
				Paged: paged, Cursor: cursor, Limit: limit,
			})
			if err != nil {
				return err
			}
			for _, st := range page.Items {
				printStat(st)
			}
			if page.HasMore {
				fmt.Fprintf(os.Stderr, "-- more, next cursor: %s\n", page.NextCursor)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&paged, "paged", false, "request a page instead of the full listing")
	cmd.Flags().StringVar(&cursor, "cursor", "", "page cursor from a previous --paged ls")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size hint")
	return cmd
}

func newCatCmd() *cobra.Command {
	var rangeFlag string
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a file's contents to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDriver(cmd, cmd.Context())
			if err != nil {
				return err
			}
			desc, err := d.DownloadFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if rangeFlag == "" {
				r, err := desc.OpenFull(cmd.Context())
				if err != nil {
					return err
				}
				defer r.Body.Close()
				_, err = io.Copy(os.Stdout, r.Body)
				return err
			}

			br, err := parseByteRange(rangeFlag)
			if err != nil {
				return err
			}
			if desc.OpenRange == nil {
				return fmt.Errorf("driver does not support ranged reads")
			}
			r, err := desc.OpenRange(cmd.Context(), br)
			if err != nil {
				return err
			}
			body := io.ReadCloser(r.Body)
			if desc.RangeFallbackPolicy == driver.Honor206 && r.StatusCode == 200 {
				body = driver.SoftwareSlice(body, br)
			}
			defer body.Close()
			_, err = io.Copy(os.Stdout, body)
			return err
		},
	}
	cmd.Flags().StringVar(&rangeFlag, "range", "", "byte range as start-end or start- (end omitted means to EOF)")
	return cmd
}

func parseByteRange(s string) (driver.ByteRange, error) {
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return driver.ByteRange{}, fmt.Errorf("range %q must look like start-end", s)
	}
	startN, err := strconv.ParseInt(start, 10, 64)
	if err != nil {
		return driver.ByteRange{}, fmt.Errorf("invalid range start %q: %w", start, err)
	}
	if end == "" {
		return driver.ByteRange{Start: startN, End: -1}, nil
	}
	endN, err := strconv.ParseInt(end, 10, 64)
	if err != nil {
		return driver.ByteRange{}, fmt.Errorf("invalid range end %q: %w", end, err)
	}
	return driver.ByteRange{Start: startN, End: endN}, nil
}

func newPutCmd() *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "put <path> <local-file>",
		Short: "Upload a local file to path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDriver(cmd, cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			fi, err := f.Stat()
			if err != nil {
				return err
			}
			res, err := d.UploadFile(cmd.Context(), args[0], f, driver.UploadInfo{
				Filename:      driver.Name(args[0]),
				ContentType:   contentType,
				ContentLength: fi.Size(),
				ModTime:       fi.ModTime().UnixNano(),
			})
			if err != nil {
				return err
			}
			fmt.Println(res.StoragePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "application/octet-stream", "MIME type to report for the upload")
	return cmd
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDriver(cmd, cmd.Context())
			if err != nil {
				return err
			}
			res, err := d.CreateDirectory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if res.AlreadyExisted {
				fmt.Println(res.Path, "(already existed)")
				return nil
			}
			fmt.Println(res.Path)
			return nil
		},
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path> [path...]",
		Short: "Remove one or more paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDriver(cmd, cmd.Context())
			if err != nil {
				return err
			}
			res, err := d.BatchRemoveItems(cmd.Context(), args, args)
			if err != nil {
				return err
			}
			for _, p := range res.Success {
				fmt.Println("removed", p)
			}
			for _, fail := range res.Failed {
				fmt.Fprintf(os.Stderr, "failed %s: %s\n", fail.Path, fail.Error)
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d of %d paths failed", len(res.Failed), len(args))
			}
			return nil
		},
	}
}
