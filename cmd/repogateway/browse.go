package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/greg-hellings/repogateway/pkg/report"
	consolefmt "github.com/greg-hellings/repogateway/pkg/report/format"
	"github.com/greg-hellings/repogateway/pkg/repository"
)

// treeView is the JSON shape of a directory listing.
type treeView struct {
	RepositoryID int64                 `json:"repositoryId"`
	Path         string                `json:"path"`
	Branch       string                `json:"branch,omitempty"`
	Nodes        []repository.FileNode `json:"nodes"`
}

// fileView is the JSON shape of a file read.
type fileView struct {
	RepositoryID int64  `json:"repositoryId"`
	Path         string `json:"path"`
	Branch       string `json:"branch,omitempty"`
	Size         int    `json:"size"`
	Content      []byte `json:"content"`
}

func newTreeCmd(g *globals) *cobra.Command {
	var branch string
	c := &cobra.Command{
		Use:   "tree <id> [path]",
		Short: "List one directory of a registered repository",
		Long: `List the immediate children of path (the root when omitted).
Directories are listed before files. Results are cached for cache.ttl.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 2 {
				path = args[1]
			}
			return g.invoke(cmd, func(ctx context.Context, a app) error {
				ownerID, err := a.ownerID(ctx)
				if err != nil {
					return err
				}
				nodes, err := a.Gateway.GetDirectory(ctx, id, ownerID, path, branch)
				if err != nil {
					return err
				}
				view := treeView{RepositoryID: id, Path: path, Branch: branch, Nodes: nodes}
				return g.render("tree", view, nil, func(f *consolefmt.ConsoleFormatter, w io.Writer) error {
					return f.RenderTree(nodes, w)
				})
			})
		},
	}
	c.Flags().StringVarP(&branch, "branch", "b", "", "Branch or ref (default: the repository's default branch)")
	return c
}

func newCatCmd(g *globals) *cobra.Command {
	var branch string
	c := &cobra.Command{
		Use:   "cat <id> <path>",
		Short: "Print a file from a registered repository",
		Long: `Print the raw bytes of a file. With --format json the content is
base64 encoded inside the envelope.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return g.invoke(cmd, func(ctx context.Context, a app) error {
				ownerID, err := a.ownerID(ctx)
				if err != nil {
					return err
				}
				data, err := a.Gateway.GetFileContent(ctx, id, ownerID, args[1], branch)
				if err != nil {
					return err
				}
				view := fileView{RepositoryID: id, Path: args[1], Branch: branch, Size: len(data), Content: data}
				return g.render("file", view, nil, func(_ *consolefmt.ConsoleFormatter, w io.Writer) error {
					_, err := w.Write(data)
					return err
				})
			})
		},
	}
	c.Flags().StringVarP(&branch, "branch", "b", "", "Branch or ref (default: the repository's default branch)")
	return c
}

func newBranchesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "branches <id>",
		Short: "List the branches of a registered repository",
		Long: `List branch names. When the provider cannot be reached the
conventional names main, master and develop are shown instead and flagged
as a fallback.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return g.invoke(cmd, func(ctx context.Context, a app) error {
				ownerID, err := a.ownerID(ctx)
				if err != nil {
					return err
				}
				list, err := a.Gateway.Branches(ctx, id, ownerID)
				if err != nil {
					return err
				}
				if list.Fallback {
					a.Logger.Warn("Provider unavailable; showing fallback branch names", "repository_id", id, "error", list.Cause)
				}
				return g.render("branches", list, report.BranchErrors(list), func(f *consolefmt.ConsoleFormatter, w io.Writer) error {
					return f.RenderBranches(list, w)
				})
			})
		},
	}
}
