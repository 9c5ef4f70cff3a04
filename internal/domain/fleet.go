package domain

// Driver is one delivery resource from the fixed fleet pool.
type Driver struct {
	Name    string `json:"name"    yaml:"name"`
	Vehicle string `json:"vehicle" yaml:"vehicle"`
	Plate   string `json:"plate"   yaml:"plate"`
	Contact string `json:"contact" yaml:"contact"`
}

// DefaultFleet is the built-in pool used when no fleet file is configured.
func DefaultFleet() []Driver {
	return []Driver{
		{Name: "Rajesh Kumar", Vehicle: "Tata Signa 4018", Plate: "MH-12-AB-9988", Contact: "+91-98765-43210"},
		{Name: "Vikram Singh", Vehicle: "Ashok Leyland Ecomet", Plate: "DL-01-CA-4421", Contact: "+91-99887-77665"},
		{Name: "Suresh Patil", Vehicle: "BharatBenz 1923C", Plate: "KA-05-MJ-1002", Contact: "+91-88776-65544"},
		{Name: "Amit Verma", Vehicle: "Mahindra Blazo X", Plate: "UP-32-DN-5566", Contact: "+91-77665-54433"},
	}
}
