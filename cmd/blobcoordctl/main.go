// Command blobcoordctl is a thin operational harness over the object
// coordinator (internal/object.Handler), analogous to how torua exposes
// cmd/coordinator and cmd/node as HTTP services — here the surface is a
// cobra CLI instead, since the coordinator itself has no inbound network
// listener (spec §2: "the Object API does not itself own I/O progress").
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lizhe1240/blobseer/internal/config"
	"github.com/lizhe1240/blobseer/internal/logctx"
	"github.com/lizhe1240/blobseer/internal/metadata"
	"github.com/lizhe1240/blobseer/internal/metadata/memresolver"
	"github.com/lizhe1240/blobseer/internal/object"
	"github.com/lizhe1240/blobseer/internal/rpcclient"
)

var (
	cfgPath      string
	objectIDFlag uint32
	versionFlag  uint32
)

func main() {
	root := &cobra.Command{
		Use:   "blobcoordctl",
		Short: "operate a BlobSeer-style object coordinator",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a viper-readable config file")

	root.AddCommand(newCreateCmd(), newReadCmd(), newWriteCmd(), newLocationsCmd(), newObjCountCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newHandler() (*object.Handler, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logctx.New("blobcoordctl")
	if err != nil {
		return nil, nil, err
	}
	h, err := object.New(cfg, rpcclient.TCPTransport{}, memresolver.New(), log)
	if err != nil {
		return nil, nil, err
	}
	return h, log, nil
}

func newCreateCmd() *cobra.Command {
	var pageSize uint64
	var replicaCount uint32
	cmd := &cobra.Command{
		Use:   "create",
		Short: "create a new object",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, log, err := newHandler()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			id, err := h.Create(cmd.Context(), pageSize, replicaCount)
			if err != nil {
				return err
			}
			fmt.Printf("object_id=%d\n", id)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&pageSize, "page-size", 4096, "page size in bytes")
	cmd.Flags().Uint32Var(&replicaCount, "replica-count", 3, "replicas per page")
	return cmd
}

func newReadCmd() *cobra.Command {
	var offset, size uint64
	cmd := &cobra.Command{
		Use:   "read",
		Short: "read a byte range and write it to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, log, err := newHandler()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if _, err := h.GetLatest(cmd.Context(), metadata.ObjectId(objectIDFlag)); err != nil {
				return err
			}
			buf := make([]byte, size)
			if err := h.Read(cmd.Context(), offset, buf, metadata.Version(versionFlag)); err != nil {
				return err
			}
			_, err = os.Stdout.Write(buf)
			return err
		},
	}
	cmd.Flags().Uint32Var(&objectIDFlag, "object-id", 0, "object id")
	cmd.Flags().Uint32Var(&versionFlag, "version", 0, "version (0 = latest)")
	cmd.Flags().Uint64Var(&offset, "offset", 0, "byte offset")
	cmd.Flags().Uint64Var(&size, "size", 0, "byte count")
	return cmd
}

func newWriteCmd() *cobra.Command {
	var offset uint64
	var appendMode bool
	cmd := &cobra.Command{
		Use:   "write",
		Short: "write stdin to a byte range",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, log, err := newHandler()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if _, err := h.GetLatest(cmd.Context(), metadata.ObjectId(objectIDFlag)); err != nil {
				return err
			}
			buf, err := readAllStdin()
			if err != nil {
				return err
			}

			var version metadata.Version
			if appendMode {
				version, err = h.Append(cmd.Context(), buf)
			} else {
				version, err = h.Write(cmd.Context(), offset, buf)
			}
			if err != nil {
				return err
			}
			fmt.Printf("version=%d\n", version)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&objectIDFlag, "object-id", 0, "object id")
	cmd.Flags().Uint64Var(&offset, "offset", 0, "byte offset (ignored with --append)")
	cmd.Flags().BoolVar(&appendMode, "append", false, "append instead of positional write")
	return cmd
}

func newLocationsCmd() *cobra.Command {
	var offset, size uint64
	cmd := &cobra.Command{
		Use:   "locations",
		Short: "list replica locations covering a byte range",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, log, err := newHandler()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			locs, err := h.GetLocations(cmd.Context(), offset, size, metadata.Version(versionFlag))
			if err != nil {
				return err
			}
			for _, l := range locs {
				fmt.Printf("%s:%s\toffset=%d\tsize=%d\n", l.Provider.Host, l.Provider.Service, l.PageOffset, l.PageSize)
			}
			return nil
		},
	}
	cmd.Flags().Uint32Var(&versionFlag, "version", 0, "version (0 = latest)")
	cmd.Flags().Uint64Var(&offset, "offset", 0, "byte offset")
	cmd.Flags().Uint64Var(&size, "size", 0, "byte count")
	return cmd
}

func newObjCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "objcount",
		Short: "print the total number of objects known to the version manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, log, err := newHandler()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			count, err := h.GetObjCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(count)
			return nil
		},
	}
}

func readAllStdin() ([]byte, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > 0 {
		buf := make([]byte, info.Size())
		_, err := os.Stdin.Read(buf)
		return buf, err
	}
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}
