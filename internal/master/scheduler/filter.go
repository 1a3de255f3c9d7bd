package scheduler

import (
	"go.uber.org/zap"

	"jobwatch/pkg/model"
)

// filterNodes returns the nodes that satisfy the hard constraints of job.
func (s *Scheduler) filterNodes(job *model.RemoteJob, nodes []*model.Node) []*model.Node {
	candidates := make([]*model.Node, 0, len(nodes))
	for _, node := range nodes {
		if s.checkNode(job, node) {
			candidates = append(candidates, node)
		}
	}
	return candidates
}

// checkNode is the predicate: node healthy and enough free cpu and memory.
func (s *Scheduler) checkNode(job *model.RemoteJob, node *model.Node) bool {
	if node.Status != model.NodeReady {
		return false
	}

	free := node.Free()
	if !job.ResReq.Fits(free) {
		s.logger.Debug("node filtered: insufficient resources",
			zap.String("node", node.ID),
			zap.String("handle", string(job.Handle)),
			zap.Int64("free_milli_cpu", free.MilliCPU),
			zap.Int64("need_milli_cpu", job.ResReq.MilliCPU),
			zap.Int64("free_memory", free.Memory),
			zap.Int64("need_memory", job.ResReq.Memory))
		return false
	}
	return true
}
