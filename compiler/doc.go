/*

Backend core passes over the shared ssa graph

Intermediate Representation (ir) ->
	opt.RemovePhiSCCs ->
	scheduling (collaborator) ->
	back.SpillBelady ->
	register assignment (collaborator) ->
	back.SortFrameEntities, back.LayoutFrameType ->
	back.SimStackPointer ->
	back.FixStackNodes ->
Code Emission (collaborator)

*/
package compiler
