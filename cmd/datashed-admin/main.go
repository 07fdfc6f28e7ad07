// Package main implements datashed-admin, a maintenance tool that works
// on a workspace directory directly, without a running daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/apache/arrow/go/v7/arrow/memory"
	"github.com/joho/godotenv"

	"github.com/datashed/datashed/internal/archive"
	"github.com/datashed/datashed/internal/catalog"
	"github.com/datashed/datashed/internal/dataset"
	"github.com/datashed/datashed/internal/storage"
	"github.com/datashed/datashed/internal/workspace"
	"github.com/datashed/datashed/pkg/types"
)

func main() {
	log.SetFlags(0)

	// Optional .env in the working directory.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "init":
		err = cmdInit(os.Args[2:])
	case "list":
		err = cmdList(os.Args[2:])
	case "show":
		err = cmdShow(os.Args[2:])
	case "update":
		err = cmdUpdate(os.Args[2:])
	case "tag":
		err = cmdTag(os.Args[2:])
	case "read":
		err = cmdRead(os.Args[2:])
	case "verify":
		err = cmdVerify(os.Args[2:])
	case "archive":
		err = cmdArchive(os.Args[2:])
	case "backup":
		err = cmdBackup(os.Args[2:])
	case "help", "-h", "-help", "--help":
		printUsage()
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `datashed-admin - workspace maintenance for datashed

Usage: datashed-admin <command> [options] [args]

Commands:
  init      Initialize a new workspace
  list      List datasets in the catalog
  show      Show one dataset record and its chunk files
  update    Change name, description, or favorite of a dataset
  tag       Add or remove dataset tags
  read      Print the first rows of a dataset
  verify    Check chunk files against their recorded checksums
  archive   Push a dataset to archive storage, or pull it back
  backup    Snapshot the catalog, prune or restore backups

The workspace directory comes from -workspace or DATASHED_WORKSPACE
(default ./datashed). Run "datashed-admin <command> -h" for options.
`)
}

func defaultWorkspace() string {
	if dir := os.Getenv("DATASHED_WORKSPACE"); dir != "" {
		return dir
	}
	return "./datashed"
}

func workspaceFlag(fs *flag.FlagSet) *string {
	return fs.String("workspace", defaultWorkspace(), "Workspace directory")
}

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dir := workspaceFlag(fs)
	fs.Parse(args)

	ws, err := workspace.Init(*dir)
	if err != nil {
		return err
	}
	defer ws.Close()

	fmt.Printf("Initialized workspace at %s\n", ws.Root().Path())
	return nil
}

func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dir := workspaceFlag(fs)
	name := fs.String("name", "", "Filter by name substring")
	tag := fs.String("tag", "", "Filter by exact tag")
	status := fs.String("status", "", "Filter by status (writing, completed, aborted)")
	limit := fs.Int("limit", 0, "Maximum number of datasets (0 means all)")
	fs.Parse(args)

	ws, err := workspace.Open(*dir)
	if err != nil {
		return err
	}
	defer ws.Close()

	records, err := ws.Catalog().ListAll(context.Background(), catalog.Filter{
		Name:   *name,
		Tag:    *tag,
		Status: *status,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tNAME\tSTATUS\tROWS\tCHUNKS\tTAGS\tCREATED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.UID, r.Name, r.Status, r.RowCount, r.ChunkCount,
			strings.Join(r.Tags, ","), r.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func cmdShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	dir := workspaceFlag(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: datashed-admin show [options] <uid>")
	}

	ws, err := workspace.Open(*dir)
	if err != nil {
		return err
	}
	defer ws.Close()

	record, err := ws.Catalog().Get(context.Background(), fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Printf("UID:       %s\n", record.UID)
	fmt.Printf("Name:      %s\n", record.Name)
	if record.Description != "" {
		fmt.Printf("About:     %s\n", record.Description)
	}
	fmt.Printf("Status:    %s\n", record.Status)
	fmt.Printf("Favorite:  %t\n", record.Favorite)
	if len(record.Tags) > 0 {
		fmt.Printf("Tags:      %s\n", strings.Join(record.Tags, ", "))
	}
	fmt.Printf("Rows:      %d\n", record.RowCount)
	fmt.Printf("Path:      %s\n", record.Path)
	fmt.Printf("Created:   %s\n", record.CreatedAt.Format(time.RFC3339))
	if record.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", record.CompletedAt.Format(time.RFC3339))
	}

	// The sidecar exists once the dataset has been finished.
	meta, err := dataset.ReadMeta(ws.Root().Resolve(record.Path))
	if err != nil {
		return nil
	}
	fmt.Printf("Chunks:\n")
	for _, c := range meta.Chunks {
		fmt.Printf("  %-24s %8d rows %12d bytes  %s\n", c.Name, c.Rows, c.Bytes, c.Checksum)
	}
	return nil
}

func cmdUpdate(args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	dir := workspaceFlag(fs)
	name := fs.String("name", "", "New dataset name")
	description := fs.String("description", "", "New dataset description")
	favorite := fs.String("favorite", "", "Set favorite (true or false)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: datashed-admin update [options] <uid>")
	}

	patch := catalog.Patch{}
	if *name != "" {
		patch.Name = name
	}
	if *description != "" {
		patch.Description = description
	}
	switch *favorite {
	case "":
	case "true", "false":
		v := *favorite == "true"
		patch.Favorite = &v
	default:
		return fmt.Errorf("-favorite must be true or false, got %q", *favorite)
	}
	if patch.Name == nil && patch.Description == nil && patch.Favorite == nil {
		return fmt.Errorf("update needs -name, -description, or -favorite")
	}

	ws, err := workspace.Open(*dir)
	if err != nil {
		return err
	}
	defer ws.Close()

	record, err := ws.Catalog().Update(context.Background(), fs.Arg(0), patch)
	if err != nil {
		return err
	}
	fmt.Printf("Updated %s (%s)\n", record.UID, record.Name)
	return nil
}

func cmdTag(args []string) error {
	fs := flag.NewFlagSet("tag", flag.ExitOnError)
	dir := workspaceFlag(fs)
	add := fs.String("add", "", "Comma-separated tags to add")
	remove := fs.String("remove", "", "Comma-separated tags to remove")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: datashed-admin tag [options] <uid>")
	}
	if *add == "" && *remove == "" {
		return fmt.Errorf("tag needs -add or -remove")
	}

	ws, err := workspace.Open(*dir)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := context.Background()
	uid := fs.Arg(0)

	var record *catalog.Record
	if *add != "" {
		record, err = ws.Catalog().AddTags(ctx, uid, splitTags(*add))
		if err != nil {
			return err
		}
	}
	if *remove != "" {
		record, err = ws.Catalog().RemoveTags(ctx, uid, splitTags(*remove))
		if err != nil {
			return err
		}
	}

	fmt.Printf("Tags of %s: %s\n", record.UID, strings.Join(record.Tags, ", "))
	return nil
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func cmdRead(args []string) error {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	dir := workspaceFlag(fs)
	limit := fs.Int("limit", 10, "Number of rows to print (0 means all)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: datashed-admin read [options] <uid>")
	}

	ws, err := workspace.Open(*dir)
	if err != nil {
		return err
	}
	defer ws.Close()

	record, err := ws.Catalog().Get(context.Background(), fs.Arg(0))
	if err != nil {
		return err
	}
	if record.Status != catalog.StatusCompleted {
		return fmt.Errorf("dataset %s is %s, only completed datasets can be read", record.UID, record.Status)
	}

	r, err := dataset.Open(ws.Root().Resolve(record.Path), memory.NewGoAllocator())
	if err != nil {
		return err
	}
	defer r.Release()

	// A finished dataset with no rows has no schema to print.
	if r.Schema() == nil {
		fmt.Println("(0 of 0 rows)")
		return nil
	}

	var rows []types.Row
	if *limit > 0 {
		rows, err = r.Head(*limit)
	} else {
		rows, err = r.Rows()
	}
	if err != nil {
		return err
	}

	columns := r.Schema().Columns()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	header := make([]string, len(columns))
	for i, col := range columns {
		header[i] = col.Name
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = cell.Value.String()
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("(%d of %d rows)\n", len(rows), r.NumRows())
	return nil
}

func cmdVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	dir := workspaceFlag(fs)
	all := fs.Bool("all", false, "Verify every completed dataset")
	fs.Parse(args)

	ws, err := workspace.Open(*dir)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx := context.Background()

	if *all {
		records, err := ws.Catalog().ListAll(ctx, catalog.Filter{Status: catalog.StatusCompleted})
		if err != nil {
			return err
		}
		failed := 0
		for _, record := range records {
			if err := dataset.Verify(ws.Root().Resolve(record.Path)); err != nil {
				failed++
				fmt.Printf("FAILED  %s (%s): %v\n", record.UID, record.Name, err)
				continue
			}
			fmt.Printf("ok      %s (%s)\n", record.UID, record.Name)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d datasets failed verification", failed, len(records))
		}
		fmt.Printf("All %d datasets verified\n", len(records))
		return nil
	}

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: datashed-admin verify [options] <uid>")
	}
	record, err := ws.Catalog().Get(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if err := dataset.Verify(ws.Root().Resolve(record.Path)); err != nil {
		return err
	}
	fmt.Printf("Dataset %s verified\n", record.UID)
	return nil
}

func cmdArchive(args []string) error {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	dir := workspaceFlag(fs)
	storeType := fs.String("type", "local", "Archive backend (local or s3)")
	storePath := fs.String("path", "", "Base directory for the local backend")
	bucket := fs.String("bucket", "", "Bucket for the s3 backend")
	region := fs.String("region", "", "Region for the s3 backend")
	endpoint := fs.String("endpoint", "", "Custom endpoint for the s3 backend")
	pathStyle := fs.Bool("use-path-style", false, "Use path-style addressing for the s3 backend")
	prefix := fs.String("prefix", "", "Object key prefix")
	concurrency := fs.Int("concurrency", 0, "Parallel uploads and downloads (0 means default)")
	pull := fs.Bool("pull", false, "Restore the dataset from the archive instead of pushing")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: datashed-admin archive [options] <uid>")
	}

	ctx := context.Background()

	var store storage.ObjectStorage
	switch *storeType {
	case "local":
		if *storePath == "" {
			return fmt.Errorf("the local backend needs -path")
		}
		local, err := storage.NewLocalStorage(*storePath)
		if err != nil {
			return err
		}
		store = local
	case "s3":
		if *bucket == "" {
			return fmt.Errorf("the s3 backend needs -bucket")
		}
		s3cfg := storage.DefaultS3Config()
		if *region != "" {
			s3cfg.Region = *region
		}
		if *endpoint != "" {
			s3cfg.Endpoint = *endpoint
		}
		s3cfg.UsePathStyle = *pathStyle
		s3, err := storage.NewS3Storage(ctx, *bucket, s3cfg)
		if err != nil {
			return err
		}
		store = s3
	default:
		return fmt.Errorf("unknown archive backend %q", *storeType)
	}

	ws, err := workspace.Open(*dir)
	if err != nil {
		return err
	}
	defer ws.Close()

	record, err := ws.Catalog().Get(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	datasetDir := ws.Root().Resolve(record.Path)

	arch := archive.New(store, archive.Options{
		Prefix:      *prefix,
		Concurrency: *concurrency,
	})

	if *pull {
		if err := os.MkdirAll(datasetDir, 0755); err != nil {
			return err
		}
		res, err := arch.Pull(ctx, record.UID, datasetDir)
		if err != nil {
			return err
		}
		fmt.Printf("Restored %s: %d objects downloaded, %d already present\n",
			record.UID, res.Objects, res.Skipped)
		return nil
	}

	if record.Status != catalog.StatusCompleted {
		return fmt.Errorf("dataset %s is %s, only completed datasets can be archived", record.UID, record.Status)
	}
	res, err := arch.Push(ctx, datasetDir, record.UID)
	if err != nil {
		return err
	}
	fmt.Printf("Archived %s: %d objects, %d bytes\n", record.UID, res.Objects, res.Bytes)
	return nil
}

func cmdBackup(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	dir := workspaceFlag(fs)
	keep := fs.Int("keep", 0, "Prune old backups down to this many (0 means keep all)")
	restore := fs.String("restore", "", "Restore the catalog from this backup file instead of taking one")
	fs.Parse(args)

	if *restore != "" {
		// Open and close first: this proves the directory is a workspace
		// and that no daemon holds it, and the catalog must be closed
		// before its file is replaced.
		ws, err := workspace.Open(*dir)
		if err != nil {
			return err
		}
		catalogPath := ws.Root().CatalogPath()
		if err := ws.Close(); err != nil {
			return err
		}
		if err := catalog.RestoreBackup(*restore, catalogPath); err != nil {
			return err
		}
		fmt.Printf("Restored catalog from %s\n", *restore)
		return nil
	}

	ws, err := workspace.Open(*dir)
	if err != nil {
		return err
	}
	defer ws.Close()

	backupDir := ws.Root().BackupDir()
	path, err := ws.Catalog().Backup(context.Background(), backupDir)
	if err != nil {
		return err
	}
	fmt.Printf("Catalog backed up to %s\n", path)

	if *keep > 0 {
		removed, err := catalog.PruneBackups(backupDir, *keep)
		if err != nil {
			return err
		}
		if removed > 0 {
			fmt.Printf("Pruned %d old backups\n", removed)
		}
	}
	return nil
}
