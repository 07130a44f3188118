package envelope

// Network is a snapshot of the controller's neural network, or an update of
// its firing rates when Update is set.
type Network struct {
	Update bool
	Layers []Layer
	Step   int64
}

func (*Network) Kind() Kind { return KindNetwork }

func (m *Network) marshal(b []byte) []byte {
	b = appendBool(b, 1, m.Update, true)
	for i := range m.Layers {
		b = appendMessage(b, 2, &m.Layers[i])
	}
	return appendInt64(b, 3, m.Step, true)
}

func (m *Network) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Update = r.bool()
		case 2:
			var l Layer
			r.message(&l)
			m.Layers = append(m.Layers, l)
		case 3:
			m.Step = r.int64()
		default:
			r.skip()
		}
	}
	return r.err
}

// Layer is a Width x Height x Depth block of neurons.
type Layer struct {
	Width   int32
	Height  int32
	Depth   int32
	Name    string
	ID      int32
	Neurons []Neuron
}

// NeuronRank maps a coordinate of the layer to the index of the neuron in
// Neurons. Neurons are ordered depth first, then width, then height, like
// the channels of an RGB image. Out of range coordinates map to 0.
func (l *Layer) NeuronRank(w, h, d int32) int32 {
	if w < 0 || w >= l.Width || h < 0 || h >= l.Height || d < 0 || d >= l.Depth {
		return 0
	}
	return d + l.Depth*w + l.Depth*l.Width*h
}

func (l *Layer) marshal(b []byte) []byte {
	b = appendInt32(b, 1, l.Width, true)
	b = appendInt32(b, 2, l.Height, true)
	b = appendInt32(b, 3, l.Depth, true)
	b = appendString(b, 4, l.Name, true)
	b = appendInt32(b, 5, l.ID, true)
	for i := range l.Neurons {
		b = appendMessage(b, 6, &l.Neurons[i])
	}
	return b
}

func (l *Layer) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			l.Width = r.int32()
		case 2:
			l.Height = r.int32()
		case 3:
			l.Depth = r.int32()
		case 4:
			l.Name = r.string()
		case 5:
			l.ID = r.int32()
		case 6:
			var n Neuron
			r.message(&n)
			l.Neurons = append(l.Neurons, n)
		default:
			r.skip()
		}
	}
	return r.err
}

type Neuron struct {
	// Mp is the membrane potential.
	Mp          float64
	Rate        float64
	ID          int32
	WeightLists []WeightList
}

func (n *Neuron) marshal(b []byte) []byte {
	b = appendDouble(b, 1, n.Mp, false)
	b = appendDouble(b, 2, n.Rate, false)
	b = appendInt32(b, 3, n.ID, false)
	for i := range n.WeightLists {
		b = appendMessage(b, 4, &n.WeightLists[i])
	}
	return b
}

func (n *Neuron) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			n.Mp = r.double()
		case 2:
			n.Rate = r.double()
		case 3:
			n.ID = r.int32()
		case 4:
			var wl WeightList
			r.message(&wl)
			n.WeightLists = append(n.WeightLists, wl)
		default:
			r.skip()
		}
	}
	return r.err
}

// WeightList groups the afferent weights of one projection type.
type WeightList struct {
	Type    int32
	Weights []Weight
}

func (wl *WeightList) marshal(b []byte) []byte {
	b = appendInt32(b, 1, wl.Type, false)
	for i := range wl.Weights {
		b = appendMessage(b, 2, &wl.Weights[i])
	}
	return b
}

func (wl *WeightList) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			wl.Type = r.int32()
		case 2:
			var w Weight
			r.message(&w)
			wl.Weights = append(wl.Weights, w)
		default:
			r.skip()
		}
	}
	return r.err
}

type Weight struct {
	PreNeuronID int32
	PreLayerID  int32
	Value       float64
}

func (w *Weight) marshal(b []byte) []byte {
	b = appendInt32(b, 1, w.PreNeuronID, false)
	b = appendInt32(b, 2, w.PreLayerID, false)
	return appendDouble(b, 3, w.Value, false)
}

func (w *Weight) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			w.PreNeuronID = r.int32()
		case 2:
			w.PreLayerID = r.int32()
		case 3:
			w.Value = r.double()
		default:
			r.skip()
		}
	}
	return r.err
}
