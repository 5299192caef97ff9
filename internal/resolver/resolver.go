package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"ex-vellum/internal/metrics"
	"ex-vellum/pkg/vellum"
)

const defaultColumnConcurrency = 4

// ChildSource returns the ordered children of one block.
type ChildSource interface {
	Children(ctx context.Context, blockID string, useCache bool) ([]vellum.Block, error)
}

// Options controls one resolve call.
type Options struct {
	// TypeFilter limits output to matching blocks; nil disables filtering.
	TypeFilter TypeFilter
	// HeadingOffset is added to heading levels before clamping.
	HeadingOffset int
	// SkipCache forces provider fetches and overwrites cached children.
	SkipCache bool
}

// Complete reports whether opts render the whole page unaltered, the only
// output fit for sharing with other members.
func (o Options) Complete() bool {
	return !o.TypeFilter.Active() && o.HeadingOffset == 0
}

// Option mutates resolver configuration.
type Option func(*Resolver)

// WithLogger injects a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(resolver *Resolver) {
		if logger != nil {
			resolver.logger = logger
		}
	}
}

// WithMetrics counts placeholder blocks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(resolver *Resolver) {
		resolver.metrics = m
	}
}

// WithColumnConcurrency bounds concurrent column fetches per column list.
func WithColumnConcurrency(limit int) Option {
	return func(resolver *Resolver) {
		if limit > 0 {
			resolver.columnConcurrency = limit
		}
	}
}

// Resolver converts block sequences into RenderNode trees.
type Resolver struct {
	source            ChildSource
	formatter         vellum.TextFormatter
	logger            *slog.Logger
	metrics           *metrics.Metrics
	columnConcurrency int
}

// New creates a resolver reading children from source and formatting text with formatter.
func New(source ChildSource, formatter vellum.TextFormatter, opts ...Option) (*Resolver, error) {
	if source == nil {
		return nil, fmt.Errorf("new resolver: nil child source")
	}
	if formatter == nil {
		return nil, fmt.Errorf("new resolver: nil text formatter")
	}

	resolver := &Resolver{
		source:            source,
		formatter:         formatter,
		logger:            slog.Default(),
		columnConcurrency: defaultColumnConcurrency,
	}
	for _, opt := range opts {
		opt(resolver)
	}

	return resolver, nil
}

// ResolvePage fetches the top-level blocks of pageID and resolves them.
//
// A failure fetching the page itself is returned; failures below it become placeholders.
func (r *Resolver) ResolvePage(ctx context.Context, pageID string, opts Options) ([]vellum.RenderNode, error) {
	blocks, err := r.source.Children(ctx, pageID, !opts.SkipCache)
	if err != nil {
		return nil, fmt.Errorf("resolve page %s: %w", pageID, err)
	}

	return r.Resolve(ctx, blocks, opts), nil
}

// Resolve converts blocks into render nodes in source order.
func (r *Resolver) Resolve(ctx context.Context, blocks []vellum.Block, opts Options) []vellum.RenderNode {
	nodes := r.resolveBlocks(ctx, blocks, opts)
	if nodes == nil {
		return []vellum.RenderNode{}
	}

	return nodes
}

type listRun struct {
	kind      vellum.ListKind
	container vellum.ListContainer
}

func (r *Resolver) resolveBlocks(ctx context.Context, blocks []vellum.Block, opts Options) []vellum.RenderNode {
	var (
		out  []vellum.RenderNode
		open *listRun
	)
	flush := func() {
		if open != nil {
			out = append(out, open.container)
			open = nil
		}
	}

	for idx := 0; idx < len(blocks); idx++ {
		block := blocks[idx]
		if !opts.TypeFilter.Keeps(block) {
			continue
		}

		if kind, isList := block.ListKind(); isList && opts.TypeFilter.Includes(block.Type) {
			item, err := r.resolveListItem(ctx, block, opts)
			if err != nil {
				flush()
				out = append(out, r.placeholder(ctx, block, err))
				continue
			}
			if open != nil && open.kind != kind {
				flush()
			}
			if open == nil {
				open = &listRun{
					kind:      kind,
					container: vellum.ListContainer{Ordered: kind == vellum.ListKindOrdered},
				}
			}
			open.container.Items = append(open.container.Items, item)
			continue
		}

		var nodes []vellum.RenderNode
		if block.Type == vellum.BlockTypeColumnList {
			var consumed int
			nodes, consumed = r.resolveColumnList(ctx, blocks[idx+1:], block, opts)
			idx += consumed
		} else {
			nodes = r.renderSafely(ctx, block, func() ([]vellum.RenderNode, error) {
				return r.resolveBlock(ctx, block, opts)
			})
		}
		// Blocks that filter away entirely leave an open list run intact.
		if len(nodes) == 0 {
			continue
		}
		flush()
		out = append(out, nodes...)
	}
	flush()

	return out
}

func (r *Resolver) resolveListItem(ctx context.Context, block vellum.Block, opts Options) (item vellum.ListItem, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("resolve list item %s: panic recovered: %v", block.ID, recovered)
		}
	}()

	item = vellum.ListItem{Text: r.formatter.Format(block.Payload.RichText)}
	if !block.HasChildren {
		return item, nil
	}

	children, err := r.children(ctx, block, opts)
	if err != nil {
		return vellum.ListItem{}, err
	}
	item.Children = children

	return item, nil
}

// renderSafely runs fn and replaces any error or panic with a placeholder for block.
func (r *Resolver) renderSafely(ctx context.Context, block vellum.Block, fn func() ([]vellum.RenderNode, error)) (nodes []vellum.RenderNode) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("resolve block %s: panic recovered: %v", block.ID, recovered)
			nodes = []vellum.RenderNode{r.placeholder(ctx, block, err)}
		}
	}()

	nodes, err := fn()
	if err != nil {
		return []vellum.RenderNode{r.placeholder(ctx, block, err)}
	}

	return nodes
}

func (r *Resolver) placeholder(ctx context.Context, block vellum.Block, err error) vellum.RenderNode {
	r.logger.WarnContext(ctx, "block render failed",
		"block_id", block.ID,
		"block_type", string(block.Type),
		"error", err,
	)
	r.metrics.PlaceholderBlock()

	return vellum.ErrorPlaceholder{BlockID: block.ID, Reason: vellum.UserMessageFor(err)}
}

// children fetches and resolves the children of block with unchanged options.
func (r *Resolver) children(ctx context.Context, block vellum.Block, opts Options) ([]vellum.RenderNode, error) {
	blocks, err := r.source.Children(ctx, block.ID, !opts.SkipCache)
	if err != nil {
		return nil, fmt.Errorf("fetch children of %s: %w", block.ID, err)
	}

	return r.resolveBlocks(ctx, blocks, opts), nil
}

func (r *Resolver) childrenIfAny(ctx context.Context, block vellum.Block, opts Options) ([]vellum.RenderNode, error) {
	if !block.HasChildren {
		return nil, nil
	}

	return r.children(ctx, block, opts)
}

func (r *Resolver) resolveBlock(ctx context.Context, block vellum.Block, opts Options) ([]vellum.RenderNode, error) {
	included := opts.TypeFilter.Includes(block.Type)

	if level, isHeading := block.HeadingLevel(); isHeading {
		return r.resolveHeading(ctx, block, level, included, opts)
	}

	switch block.Type {
	case vellum.BlockTypeToggle:
		children, err := r.childrenIfAny(ctx, block, opts)
		if err != nil {
			return nil, err
		}
		if !included {
			return children, nil
		}
		return []vellum.RenderNode{vellum.Toggle{
			Summary:  r.formatter.Format(block.Payload.RichText),
			Children: children,
		}}, nil

	case vellum.BlockTypeCallout, vellum.BlockTypeQuote:
		children, err := r.childrenIfAny(ctx, block, opts)
		if err != nil {
			return nil, err
		}
		if !included {
			return children, nil
		}
		if opts.TypeFilter.Active() && block.HasChildren && len(children) == 0 {
			return nil, nil
		}
		text := r.formatter.Format(block.Payload.RichText)
		if block.Type == vellum.BlockTypeQuote {
			return []vellum.RenderNode{vellum.Quote{Text: text, Children: children}}, nil
		}
		return []vellum.RenderNode{vellum.Callout{Icon: block.Payload.Icon, Text: text, Children: children}}, nil

	case vellum.BlockTypeTable:
		if !included {
			return nil, nil
		}
		return r.resolveTable(ctx, block, opts)

	case vellum.BlockTypeColumn:
		// A stray column outside any column list renders its content inline.
		return r.childrenIfAny(ctx, block, opts)

	case vellum.BlockTypeParagraph, vellum.BlockTypeTodo:
		children, err := r.childrenIfAny(ctx, block, opts)
		if err != nil {
			return nil, err
		}
		if !included {
			return children, nil
		}
		text := r.formatter.Format(block.Payload.RichText)
		if block.Type == vellum.BlockTypeTodo {
			return []vellum.RenderNode{vellum.Todo{Checked: block.Payload.Checked, Text: text, Children: children}}, nil
		}
		return []vellum.RenderNode{vellum.Paragraph{Text: text, Children: children}}, nil
	}

	if !included {
		return r.childrenIfAny(ctx, block, opts)
	}

	return []vellum.RenderNode{r.resolveLeaf(block)}, nil
}

func (r *Resolver) resolveHeading(
	ctx context.Context,
	block vellum.Block,
	level int,
	included bool,
	opts Options,
) ([]vellum.RenderNode, error) {
	rendered := vellum.ClampHeadingLevel(level + opts.HeadingOffset)
	if !block.IsHeadingContainer() {
		if !included {
			return nil, nil
		}
		return []vellum.RenderNode{vellum.Heading{
			Level: rendered,
			Text:  r.formatter.Format(block.Payload.RichText),
		}}, nil
	}

	nested := opts
	nested.HeadingOffset = min(opts.HeadingOffset+1, vellum.MaxHeadingLevel)
	children, err := r.childrenIfAny(ctx, block, nested)
	if err != nil {
		return nil, err
	}
	if !included {
		return children, nil
	}

	return []vellum.RenderNode{vellum.Toggle{
		Summary:      r.formatter.Format(block.Payload.RichText),
		HeadingLevel: rendered,
		Children:     children,
	}}, nil
}

func (r *Resolver) resolveLeaf(block vellum.Block) vellum.RenderNode {
	switch block.Type {
	case vellum.BlockTypeImage:
		return vellum.Image{URL: block.Payload.URL, Caption: r.formatter.Format(block.Payload.Caption)}
	case vellum.BlockTypeCode:
		return vellum.Code{Language: block.Payload.Language, Text: vellum.PlainText(block.Payload.RichText)}
	case vellum.BlockTypeDivider:
		return vellum.Divider{}
	case vellum.BlockTypeUnsupported:
		name := block.Payload.OriginalType
		if name == "" {
			name = string(block.Type)
		}
		return vellum.Unsupported{BlockType: name}
	default:
		return vellum.Unsupported{BlockType: string(block.Type)}
	}
}

func (r *Resolver) resolveTable(ctx context.Context, block vellum.Block, opts Options) ([]vellum.RenderNode, error) {
	table := vellum.Table{
		HasColumnHeader: block.Payload.HasColumnHeader,
		HasRowHeader:    block.Payload.HasRowHeader,
		Rows:            [][]string{},
	}
	if !block.HasChildren {
		return []vellum.RenderNode{table}, nil
	}

	rows, err := r.source.Children(ctx, block.ID, !opts.SkipCache)
	if err != nil {
		return nil, fmt.Errorf("fetch table rows of %s: %w", block.ID, err)
	}
	for _, row := range rows {
		if row.Type != vellum.BlockTypeTableRow {
			continue
		}
		cells := make([]string, len(row.Payload.Cells))
		for idx, cell := range row.Payload.Cells {
			cells[idx] = r.formatter.Format(cell)
		}
		table.Rows = append(table.Rows, cells)
	}

	return []vellum.RenderNode{table}, nil
}

// resolveColumnList resolves a column list and returns how many of the
// following siblings it consumed as columns.
func (r *Resolver) resolveColumnList(
	ctx context.Context,
	following []vellum.Block,
	block vellum.Block,
	opts Options,
) (nodes []vellum.RenderNode, consumed int) {
	var columns []vellum.Block
	nodes = r.renderSafely(ctx, block, func() ([]vellum.RenderNode, error) {
		direct, err := r.columnChildren(ctx, block, opts)
		if err != nil {
			return nil, err
		}
		columns = direct
		if len(columns) == 0 {
			columns = siblingColumns(following)
			consumed = len(columns)
		}

		resolved := r.resolveColumns(ctx, columns, opts)
		if !opts.TypeFilter.Includes(block.Type) {
			var flat []vellum.RenderNode
			for _, column := range resolved {
				flat = append(flat, column...)
			}
			return flat, nil
		}

		return []vellum.RenderNode{vellum.ColumnLayout{Columns: resolved}}, nil
	})

	return nodes, consumed
}

func (r *Resolver) columnChildren(ctx context.Context, block vellum.Block, opts Options) ([]vellum.Block, error) {
	if !block.HasChildren {
		return nil, nil
	}

	children, err := r.source.Children(ctx, block.ID, !opts.SkipCache)
	if err != nil {
		return nil, fmt.Errorf("fetch columns of %s: %w", block.ID, err)
	}

	columns := make([]vellum.Block, 0, len(children))
	for _, child := range children {
		if child.Type == vellum.BlockTypeColumn {
			columns = append(columns, child)
		}
	}

	return columns, nil
}

func siblingColumns(following []vellum.Block) []vellum.Block {
	count := 0
	for count < len(following) && following[count].Type == vellum.BlockTypeColumn {
		count++
	}

	return following[:count]
}

// resolveColumns fans out column resolution and reassembles results in column order.
func (r *Resolver) resolveColumns(ctx context.Context, columns []vellum.Block, opts Options) [][]vellum.RenderNode {
	resolved := make([][]vellum.RenderNode, len(columns))

	var group errgroup.Group
	group.SetLimit(r.columnConcurrency)
	for idx, column := range columns {
		group.Go(func() error {
			resolved[idx] = r.renderSafely(ctx, column, func() ([]vellum.RenderNode, error) {
				return r.childrenIfAny(ctx, column, opts)
			})
			if resolved[idx] == nil {
				resolved[idx] = []vellum.RenderNode{}
			}
			return nil
		})
	}
	_ = group.Wait()

	return resolved
}
