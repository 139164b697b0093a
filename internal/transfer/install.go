package transfer

import (
	"github.com/NGIOproject/norns-go/internal/peer"
	"github.com/NGIOproject/norns-go/internal/rdma"
	"github.com/NGIOproject/norns-go/internal/resource"
)

// Install registers the five strategies of spec §4.7 into reg, as happens
// once at daemon startup (spec §4.6: "Registration at startup installs the
// five strategies below").
func Install(reg *Registry, engine *rdma.Engine, client *peer.Client) {
	reg.Register(resource.KindLocalPath, resource.KindLocalPath, LocalToLocal{})
	reg.Register(resource.KindMemoryRegion, resource.KindLocalPath, MemRegionToLocal{})
	reg.Register(resource.KindLocalPath, resource.KindRemote, NewLocalToRemote(engine, client))
	reg.Register(resource.KindMemoryRegion, resource.KindRemote, NewMemRegionToRemote(engine, client))
	reg.Register(resource.KindRemote, resource.KindLocalPath, NewRemoteToLocal(client))
	// remote→shared, remote→remote, *→memory-region are deliberately absent
	// (spec §7: "combinations deliberately rejected in this core").
}
