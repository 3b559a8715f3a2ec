/*
Package flipflop implements the cluster state encoding and the CPU/GPU
synchronization protocol of a flip/flop circuit simulator.

Wires are made of segments. Segments that touch each other form a cluster that
carries a single electrical potential. Each tick, the simulation engine reports
whether every cluster is powered. The State Packer turns these facts into a
fixed size bit-packed buffer, one bit per cluster, that a renderer samples
per instance in order to color thousands of wire segments without per-instance
uniform updates.

Every renderable instance carries a RenderIndex: either Sentinel (use the
instance's own color) or an encoded (cluster, delayed, invert) triple. The
Palette Resolver decodes it against a packed buffer and picks a palette entry
with

	palette[bit XOR invert]

so that a single decode path renders both powered-when-on and inverting
visuals.

The buffer layout is an explicitly versioned contract (see Layout). Mixing
encoders and resolvers from different layout versions is rejected with
ErrLayoutMismatch.

A Core ties everything together:

	c, err := flipflop.New(flipflop.Config{Layout: flipflop.V1, Engine: engine})
	if err != nil {
		// layout mismatch or invalid configuration
	}
	c.Rebuild(graph)
	go c.Run(ctx, 10) // 10 ticks per second

	// in the render loop:
	f := c.Frame()
	defer f.Release()
	color := c.Resolver().Resolve(inst.Index, inst.Color, f)

*/
package flipflop
