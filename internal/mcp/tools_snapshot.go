package mcp

import (
	"context"

	"vbox-mcp/internal/provider"
)

func (s *Server) registerSnapshotManagement() {
	snapshotNameField := Field{
		Name:        "snapshot_name",
		Type:        TypeString,
		Required:    true,
		MaxLen:      256,
		Description: "Name or UUID of the snapshot.",
	}

	s.registry.register(&Tool{
		Name:        "snapshot_management",
		Description: "Create, restore, delete, and list VM snapshots. A VM's snapshots form a tree with one current pointer.",
		Category:    "snapshot",
		Actions: []*Action{
			{
				Name:        "create",
				Description: "Take a snapshot of the VM's current state.",
				Class:       ClassVMMutating,
				Fields: []Field{
					vmNameField(),
					snapshotNameField,
					{Name: "description", Type: TypeString, MaxLen: 1024,
						Description: "Free-form description stored with the snapshot."},
					{Name: "live", Type: TypeBoolean, Default: false,
						Description: "Snapshot a running VM without pausing it. Required when the VM is running."},
				},
				Handler: s.handleSnapshotCreate,
			},
			{
				Name:        "restore",
				Description: "Restore the VM to a snapshot. The VM must not be running.",
				Class:       ClassVMMutating,
				LongRunning: true,
				Fields: []Field{
					vmNameField(),
					snapshotNameField,
					timeoutField(),
				},
				Handler: s.handleSnapshotRestore,
			},
			{
				Name:        "delete",
				Description: "Delete a snapshot, folding its changes into its parent.",
				Class:       ClassVMMutating,
				Fields: []Field{
					vmNameField(),
					snapshotNameField,
				},
				Handler: s.handleSnapshotDelete,
			},
			{
				Name:        "list",
				Description: "List the VM's snapshot tree.",
				Class:       ClassRead,
				Fields:      []Field{vmNameField()},
				Handler:     s.handleSnapshotList,
			},
		},
	})
}

func (s *Server) handleSnapshotCreate(ctx context.Context, args Args) (any, error) {
	name := args.String("vm_name")
	snapName := args.String("snapshot_name")
	snapID, err := s.mgr.CreateSnapshot(ctx, name, snapName,
		args.String("description"), args.Bool("live"))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"snapshot_id":   snapID,
		"snapshot_name": snapName,
		"vm_name":       name,
	}, nil
}

func (s *Server) handleSnapshotRestore(ctx context.Context, args Args) (any, error) {
	ctx, cancel := s.withTimeout(ctx, args)
	defer cancel()

	name := args.String("vm_name")
	snap := args.String("snapshot_name")
	if err := s.mgr.RestoreSnapshot(ctx, name, snap); err != nil {
		return nil, err
	}
	return map[string]any{
		"restored":      true,
		"vm_name":       name,
		"snapshot_name": snap,
	}, nil
}

func (s *Server) handleSnapshotDelete(ctx context.Context, args Args) (any, error) {
	name := args.String("vm_name")
	snap := args.String("snapshot_name")
	if err := s.mgr.DeleteSnapshot(ctx, name, snap); err != nil {
		return nil, err
	}
	return map[string]any{
		"deleted":       true,
		"vm_name":       name,
		"snapshot_name": snap,
	}, nil
}

func (s *Server) handleSnapshotList(ctx context.Context, args Args) (any, error) {
	name := args.String("vm_name")
	tree, err := s.mgr.ListSnapshots(ctx, name)
	if err != nil {
		return nil, err
	}
	result := map[string]any{"vm_name": name}
	if tree == nil {
		result["snapshots"] = nil
		result["count"] = 0
		return result, nil
	}
	result["snapshots"] = tree
	result["count"] = countSnapshots(tree)
	return result, nil
}

func countSnapshots(node *provider.Snapshot) int {
	if node == nil {
		return 0
	}
	n := 1
	for i := range node.Children {
		n += countSnapshots(&node.Children[i])
	}
	return n
}
