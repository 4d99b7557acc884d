package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"nmfstore/internal/config"
	"nmfstore/internal/jobs"
	"nmfstore/internal/registry"
	"nmfstore/internal/storage"
	"nmfstore/internal/storage/shell"
)

// cli runs one command against the registry.
type cli struct {
	reg    *registry.Registry
	jobs   *jobs.Manager
	cfg    *config.Config
	config config.Loader
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

type command struct {
	name string
	help string
	run  func(c *cli, ctx context.Context, args []string) error
}

var commandTable []command

func init() {
	commandTable = []command{
		{"ls", "list a folder", (*cli).ls},
		{"stat", "show an item's basic properties", (*cli).stat},
		{"props", "retrieve extra properties by key", (*cli).props},
		{"cat", "write a file to stdout", (*cli).cat},
		{"put", "write stdin to a file", (*cli).put},
		{"cp", "copy items into a folder", (*cli).cp},
		{"mv", "move items into a folder", (*cli).mv},
		{"rm", "delete items (to the recycle bin unless -permanent)", (*cli).rm},
		{"rename", "rename an item", (*cli).rename},
		{"mkdir", "create a folder", (*cli).mkdir},
		{"glob", "search a folder tree with a ** pattern", (*cli).glob},
		{"trash", "list or empty the recycle bin", (*cli).trash},
		{"restore", "restore recycle bin entries", (*cli).restore},
		{"lib", "manage libraries (list, create, add, remove, delete)", (*cli).lib},
		{"config", "show or initialize the configuration file", (*cli).configCmd},
	}
}

var errUsage = errors.New("invalid arguments")

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	for _, cmd := range commandTable {
		if cmd.name == args[0] {
			debugPrint("command %s %v", cmd.name, args[1:])
			return cmd.run(c, ctx, args[1:])
		}
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func (c *cli) flags(name, params string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	fs.Usage = func() {
		fmt.Fprintf(c.errOut, "usage: %s %s\n", name, params)
		fs.PrintDefaults()
	}
	return fs
}

func parseCollision(s string) (storage.CollisionOption, error) {
	for _, opt := range []storage.CollisionOption{storage.GenerateUniqueName, storage.ReplaceExisting, storage.FailIfExists, storage.OpenIfExists} {
		if strings.EqualFold(s, opt.String()) {
			return opt, nil
		}
	}
	return 0, fmt.Errorf("unknown collision option %q (unique, replace, fail, open)", s)
}

func (c *cli) ls(ctx context.Context, args []string) error {
	fs := c.flags("ls", "[flags] <folder>")
	files := fs.Bool("files", false, "files only")
	folders := fs.Bool("folders", false, "folders only")
	ext := fs.String("ext", "", "comma separated extensions, e.g. .jpg,.png")
	group := fs.String("group", "", "extension group (documents, images, music, videos, archives)")
	pattern := fs.String("pattern", "", "name pattern (doublestar syntax)")
	start := fs.Int("start", 0, "index of the first item")
	maxItems := fs.Int("max", 0, "page size, 0 = all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || (*files && *folders) {
		fs.Usage()
		return errUsage
	}
	q := storage.Query{Group: *group, Pattern: *pattern, StartIndex: *start, MaxItems: *maxItems}
	switch {
	case *files:
		q.Kind = storage.QueryFiles
	case *folders:
		q.Kind = storage.QueryFolders
	}
	if *ext != "" {
		q.Extensions = strings.Split(*ext, ",")
	}

	dir, err := c.reg.ResolveFolder(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	items, err := dir.Items(ctx, q)
	if err != nil {
		return err
	}
	for _, it := range items {
		fmt.Fprintln(c.out, formatEntry(ctx, it))
	}
	return nil
}

func (c *cli) stat(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	it, err := c.reg.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Path:        %s\n", it.Path())
	fmt.Fprintf(c.out, "Name:        %s\n", it.Name())
	fmt.Fprintf(c.out, "DisplayName: %s\n", it.DisplayName())
	fmt.Fprintf(c.out, "Kind:        %s\n", it.Kind())
	fmt.Fprintf(c.out, "Provider:    %s\n", it.Provider())
	fmt.Fprintf(c.out, "Attributes:  %s\n", it.Attributes())
	fmt.Fprintf(c.out, "Created:     %s\n", formatTime(it.DateCreated()))
	if f, ok := storage.TryFile(it); ok {
		fmt.Fprintf(c.out, "ContentType: %s\n", f.ContentType())
	}
	bp, err := it.BasicProperties(ctx)
	if err != nil {
		return err
	}
	if bp.HasSize() {
		fmt.Fprintf(c.out, "Size:        %s (%d)\n", FormatFileSize(int64(bp.Size())), bp.Size())
	}
	if bp.HasDateModified() {
		fmt.Fprintf(c.out, "Modified:    %s\n", formatTime(bp.DateModified()))
	}
	if r, ok := it.(shell.Restorer); ok {
		fmt.Fprintf(c.out, "DeletedFrom: %s\n", r.OriginalPath())
		fmt.Fprintf(c.out, "Deleted:     %s\n", formatTime(r.DateDeleted()))
	}
	if s, ok := it.(shell.Shortcut); ok {
		fmt.Fprintf(c.out, "Target:      %s\n", s.TargetPath())
	}
	return nil
}

var defaultPropertyKeys = []storage.PropertyKey{
	storage.KeyItemPathDisplay,
	storage.KeyItemNameDisplay,
	storage.KeyItemType,
	storage.KeyProvider,
	storage.KeySize,
	storage.KeyFileExtension,
	storage.KeyDateCreated,
	storage.KeyDateModified,
}

func (c *cli) props(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	it, err := c.reg.Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	keys := defaultPropertyKeys
	if len(args) > 1 {
		keys = make([]storage.PropertyKey, 0, len(args)-1)
		for _, k := range args[1:] {
			keys = append(keys, storage.PropertyKey(k))
		}
	}
	bag, err := it.Properties().RetrieveProperties(ctx, keys)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintf(c.out, "%s = %s\n", k, bag[k])
	}
	return nil
}

func (c *cli) cat(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	for _, p := range args {
		f, err := c.reg.ResolveFile(ctx, p)
		if err != nil {
			return err
		}
		rs, err := f.OpenRead(ctx)
		if err != nil {
			return err
		}
		_, err = io.Copy(c.out, storage.ContextReader(ctx, rs))
		rs.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// splitPath resolves the parent folder of p and returns it with the leaf name.
func (c *cli) splitPath(ctx context.Context, p string) (storage.Folder, string, error) {
	parent := storage.ParentPath(p)
	name := storage.BaseName(p)
	if parent == "" || name == "" {
		return nil, "", fmt.Errorf("%s has no parent folder", p)
	}
	dir, err := c.reg.ResolveFolder(ctx, parent)
	return dir, name, err
}

func (c *cli) put(ctx context.Context, args []string) error {
	fs := c.flags("put", "[-append] <file>  (content is read from stdin)")
	appendMode := fs.Bool("append", false, "append instead of truncating")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}
	dir, name, err := c.splitPath(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	f, err := dir.CreateFile(ctx, name, storage.OpenIfExists)
	if err != nil {
		return err
	}
	mode := storage.WriteTruncate
	if *appendMode {
		mode = storage.WriteAppend
	}
	w, err := f.OpenWrite(ctx, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, storage.ContextReader(ctx, c.in)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (c *cli) transfer(ctx context.Context, name string, args []string) error {
	fs := c.flags(name, "[-collision unique|replace|fail|open] <source>... <folder>")
	coll := fs.String("collision", "unique", "what to do when the target name exists")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return errUsage
	}
	opt, err := parseCollision(*coll)
	if err != nil {
		return err
	}
	srcs := fs.Args()[:fs.NArg()-1]
	dest := fs.Arg(fs.NArg() - 1)
	var j *jobs.Job
	if name == "mv" {
		j = c.jobs.EnqueueMove(srcs, dest, opt)
	} else {
		j = c.jobs.EnqueueCopy(srcs, dest, opt)
	}
	return c.waitJob(ctx, j)
}

func (c *cli) cp(ctx context.Context, args []string) error { return c.transfer(ctx, "cp", args) }
func (c *cli) mv(ctx context.Context, args []string) error { return c.transfer(ctx, "mv", args) }

func (c *cli) rm(ctx context.Context, args []string) error {
	fs := c.flags("rm", "[-permanent] <item>...")
	permanent := fs.Bool("permanent", false, "skip the recycle bin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}
	opt := storage.DeleteToRecycleBin
	if *permanent {
		opt = storage.DeletePermanently
	}
	return c.waitJob(ctx, c.jobs.EnqueueDelete(fs.Args(), opt))
}

// waitJob blocks until j finishes; an interrupt cancels the job first.
func (c *cli) waitJob(ctx context.Context, j *jobs.Job) error {
	s, err := c.jobs.Wait(ctx, j)
	if err != nil {
		c.jobs.Cancel(j.ID)
		s, _ = c.jobs.Wait(context.Background(), j)
	}
	for _, f := range s.Failures {
		fmt.Fprintf(c.errOut, "%s: %s\n", f.Path, f.Error)
	}
	switch s.Status {
	case jobs.StatusCompleted:
		debugPrint("job %d done: %d/%d", s.ID, s.DoneFiles, s.TotalFiles)
		return nil
	case jobs.StatusCanceled:
		return fmt.Errorf("%s canceled after %d of %d items", s.Type, s.DoneFiles, s.TotalFiles)
	default:
		return fmt.Errorf("%s: %s", s.Type, s.Error)
	}
}

func (c *cli) rename(ctx context.Context, args []string) error {
	fs := c.flags("rename", "[-collision fail|unique|replace] <item> <new name>")
	coll := fs.String("collision", "fail", "what to do when the new name exists")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errUsage
	}
	opt, err := parseCollision(*coll)
	if err != nil {
		return err
	}
	it, err := c.reg.Resolve(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	renamed, err := it.Rename(ctx, fs.Arg(1), opt)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, renamed.Path())
	return nil
}

func (c *cli) mkdir(ctx context.Context, args []string) error {
	fs := c.flags("mkdir", "[-collision open|fail|unique] <folder>...")
	coll := fs.String("collision", "open", "what to do when the folder exists")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}
	opt, err := parseCollision(*coll)
	if err != nil {
		return err
	}
	for _, p := range fs.Args() {
		dir, name, err := c.splitPath(ctx, p)
		if err != nil {
			return err
		}
		created, err := dir.CreateFolder(ctx, name, opt)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, created.Path())
	}
	return nil
}

func (c *cli) glob(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	root, err := c.reg.ResolveFolder(ctx, args[0])
	if err != nil {
		return err
	}
	matches, err := storage.Glob(ctx, root, args[1])
	if err != nil {
		return err
	}
	for _, it := range matches {
		fmt.Fprintln(c.out, it.Path())
	}
	return nil
}

type emptier interface {
	Empty(ctx context.Context) error
}

func (c *cli) trash(ctx context.Context, args []string) error {
	fs := c.flags("trash", "[-empty]")
	empty := fs.Bool("empty", false, "permanently delete everything in the recycle bin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	bin, err := c.reg.ResolveFolder(ctx, storage.RecycleBinRoot)
	if err != nil {
		return err
	}
	if *empty {
		e, ok := bin.(emptier)
		if !ok {
			return fmt.Errorf("%s cannot be emptied", bin.Path())
		}
		return e.Empty(ctx)
	}
	items, err := bin.Items(ctx, storage.Query{})
	if err != nil {
		return err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name() < items[j].Name() })
	for _, it := range items {
		r, ok := it.(shell.Restorer)
		if !ok {
			continue
		}
		fmt.Fprintf(c.out, "%s  %s  %s\n", formatTime(r.DateDeleted()), it.Name(), r.OriginalPath())
	}
	return nil
}

func (c *cli) restore(ctx context.Context, args []string) error {
	fs := c.flags("restore", "[-collision fail|unique|replace] <name>...")
	coll := fs.String("collision", "fail", "what to do when the original location is taken")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}
	opt, err := parseCollision(*coll)
	if err != nil {
		return err
	}
	for _, name := range fs.Args() {
		p := name
		if !strings.HasPrefix(strings.ToLower(p), strings.ToLower(storage.RecycleBinRoot)) {
			p = storage.JoinPath(storage.RecycleBinRoot, name)
		}
		it, err := c.reg.Resolve(ctx, p)
		if err != nil {
			return err
		}
		r, ok := it.(shell.Restorer)
		if !ok {
			return fmt.Errorf("%s is not a recycle bin entry", it.Path())
		}
		restored, err := r.Restore(ctx, opt)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, restored.Path())
	}
	return nil
}

func (c *cli) lib(ctx context.Context, args []string) error {
	libs := c.reg.Libraries()
	if libs == nil {
		return errors.New("libraries are disabled")
	}
	if len(args) == 0 {
		return errUsage
	}
	switch sub, rest := args[0], args[1:]; {
	case sub == "list" && len(rest) == 0:
		list, err := libs.List()
		if err != nil {
			return err
		}
		for _, l := range list {
			fmt.Fprintf(c.out, "%s\t%s\n", l.Name, strings.Join(l.Folders, ", "))
		}
		return nil
	case sub == "create" && len(rest) == 1:
		l, err := libs.Create(rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, storage.JoinPath(storage.LibrariesRoot, l.Name))
		return nil
	case sub == "add" && len(rest) == 2:
		dir, err := c.reg.Native.ResolveFolder(ctx, rest[1])
		if err != nil {
			return err
		}
		return libs.AddFolder(rest[0], dir.Path())
	case sub == "remove" && len(rest) == 2:
		return libs.RemoveFolder(rest[0], c.reg.Native.Clean(rest[1]))
	case sub == "delete" && len(rest) == 1:
		return libs.Delete(rest[0])
	}
	return errUsage
}

func (c *cli) configCmd(_ context.Context, args []string) error {
	fs := c.flags("config", "[-init]")
	initFile := fs.Bool("init", false, "write the effective configuration to the file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *initFile {
		if err := c.config.Save(c.cfg); err != nil {
			return err
		}
	}
	if p, ok := c.config.(interface{ Path() string }); ok {
		fmt.Fprintln(c.out, p.Path())
	}
	return nil
}
